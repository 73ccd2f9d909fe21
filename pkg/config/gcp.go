package config

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions picks explicit credentials for Google clients. Inline JSON
// wins over a file path; with neither set the clients fall back to ADC.
func (g GCPConfig) ClientOptions() []option.ClientOption {
	switch {
	case strings.TrimSpace(g.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(g.CredentialsJSON))}
	case strings.TrimSpace(g.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(strings.TrimSpace(g.ApplicationCredentials))}
	}
	return nil
}
