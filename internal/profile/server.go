package profile

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Worker defaults. DNS and ECH are not passed to the worker when they match.
const (
	DefaultName        = "Default Server"
	DefaultServerAddr  = "example.com:443"
	DefaultListenAddr  = "127.0.0.1:30000"
	DefaultIP          = "saas.sin.fan"
	DefaultDNS         = "dns.alidns.com/dns-query"
	DefaultECH         = "cloudflare-ech.com"
	DefaultRoutingMode = "bypass_cn"
)

// Server is one named worker configuration.
type Server struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Server      string `json:"server"`
	Listen      string `json:"listen"`
	Token       string `json:"token"`
	IP          string `json:"ip"`
	DNS         string `json:"dns"`
	ECH         string `json:"ech"`
	RoutingMode string `json:"routing_mode"`
}

// DefaultServer returns a profile with a fresh id and the stock settings.
func DefaultServer() Server {
	return Server{
		ID:          NewID(),
		Name:        DefaultName,
		Server:      DefaultServerAddr,
		Listen:      DefaultListenAddr,
		IP:          DefaultIP,
		DNS:         DefaultDNS,
		ECH:         DefaultECH,
		RoutingMode: DefaultRoutingMode,
	}
}

// NewID returns a random UUID v4 string.
func NewID() string {
	return uuid.NewString()
}

// UnmarshalJSON fills routing_mode with its default when the key is absent
// and assigns an id to records stored without one.
func (s *Server) UnmarshalJSON(data []byte) error {
	type plain Server
	decoded := plain{RoutingMode: DefaultRoutingMode}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = Server(decoded)
	if strings.TrimSpace(s.ID) == "" {
		s.ID = NewID()
	}
	return nil
}

// Catalog is the persisted document.
type Catalog struct {
	Servers         []Server `json:"servers"`
	CurrentServerID *string  `json:"current_server_id"`
}

// DefaultCatalog returns a catalog holding one default profile selected as current.
func DefaultCatalog() Catalog {
	srv := DefaultServer()
	id := srv.ID
	return Catalog{Servers: []Server{srv}, CurrentServerID: &id}
}

// Clone returns a deep copy.
func (c Catalog) Clone() Catalog {
	out := Catalog{Servers: append([]Server(nil), c.Servers...)}
	if c.CurrentServerID != nil {
		id := *c.CurrentServerID
		out.CurrentServerID = &id
	}
	return out
}

func (c Catalog) indexOf(id string) int {
	for i := range c.Servers {
		if c.Servers[i].ID == id {
			return i
		}
	}
	return -1
}

// normalize enforces the load invariants: at least one profile, unique ids
// and a current id that refers to an existing profile.
func (c *Catalog) normalize() {
	if len(c.Servers) == 0 {
		*c = DefaultCatalog()
		return
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i := range c.Servers {
		if _, dup := seen[c.Servers[i].ID]; dup {
			c.Servers[i].ID = NewID()
		}
		seen[c.Servers[i].ID] = struct{}{}
	}
	if c.CurrentServerID == nil || c.indexOf(*c.CurrentServerID) < 0 {
		id := c.Servers[0].ID
		c.CurrentServerID = &id
	}
}
