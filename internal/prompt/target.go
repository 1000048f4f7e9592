package prompt

import (
	"strconv"
	"strings"
)

// Target carries the per-machine values substituted into profile patterns
// and actions.
type Target struct {
	Name            string
	Root            string
	DECnetArea      int
	DECnetNumber    int
	Domain          string
	GatewayAddress  string
	GatewayHostname string
	BindServer      string
	BindAddress     string
	Password        string
}

// SCSSystemID is the cluster system id derived from the DECnet address.
func (t Target) SCSSystemID() int {
	return t.DECnetArea*1024 + t.DECnetNumber
}

// Vars returns the template variables visible to profiles.
func (t Target) Vars() map[string]string {
	node := strings.ToLower(strings.TrimSpace(t.Name))
	return map[string]string{
		"node":             node,
		"node_upper":       strings.ToUpper(node),
		"root":             t.Root,
		"decnet_area":      strconv.Itoa(t.DECnetArea),
		"decnet_number":    strconv.Itoa(t.DECnetNumber),
		"decnet_address":   strconv.Itoa(t.DECnetArea) + "." + strconv.Itoa(t.DECnetNumber),
		"scssystemid":      strconv.Itoa(t.SCSSystemID()),
		"domain":           t.Domain,
		"gateway_address":  t.GatewayAddress,
		"gateway_hostname": t.GatewayHostname,
		"bind_server":      t.BindServer,
		"bind_address":     t.BindAddress,
		"password":         t.Password,
	}
}

// Masked returns a copy safe to print.
func (t Target) Masked() Target {
	if t.Password != "" {
		t.Password = "********"
	}
	return t
}
