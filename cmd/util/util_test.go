package util

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"reflect"
	"strings"
	"testing"
)

// TestWrapString tests that help texts are wrapped at word boundaries
func TestWrapString(t *testing.T) {
	text := strings.Repeat("stream ", 20)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Line longer than %d characters: %q", Wrap, line)
		}
		if strings.HasPrefix(line, " ") || strings.HasSuffix(line, " ") {
			t.Errorf("Line not trimmed: %q", line)
		}
	}

	if got := WrapString("short text"); got != "short text" {
		t.Errorf("Expected short text unchanged, got %q", got)
	}
}

// TestGetClientConfig tests that flags end up in the client configuration
func TestGetClientConfig(t *testing.T) {
	defer viper.Reset()

	cmd := &cobra.Command{Use: "test"}
	SetupClientFlags(cmd)
	if err := cmd.PersistentFlags().Parse([]string{
		"--endpoints", "broker-1:5552,broker-2:5552",
		"--user", "producer",
		"--credits", "32",
		"--reconnect-attempts", "4",
		"--transport-write-buffer", "2",
	}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatalf("Failed to bind flags: %v", err)
	}

	config := GetClientConfig()
	if !reflect.DeepEqual(config.Transport.Endpoints, []string{"broker-1:5552", "broker-2:5552"}) {
		t.Errorf("Unexpected endpoints %v", config.Transport.Endpoints)
	}
	if config.Username != "producer" || config.Password != "guest" {
		t.Errorf("Unexpected credentials %s/%s", config.Username, config.Password)
	}
	if config.InitialCredits != 32 {
		t.Errorf("Expected 32 credits, got %d", config.InitialCredits)
	}
	if config.MaxReconnectAttempts != 4 {
		t.Errorf("Expected 4 reconnect attempts, got %d", config.MaxReconnectAttempts)
	}
	if config.Transport.WriteBufferSize != 2048 {
		t.Errorf("Expected write buffer 2048, got %d", config.Transport.WriteBufferSize)
	}
	if !strings.HasPrefix(config.ConnectionName, "dstream-") {
		t.Errorf("Expected generated connection name, got %s", config.ConnectionName)
	}
}

// TestGetConnector tests the transport selection
func TestGetConnector(t *testing.T) {
	defer viper.Reset()
	config := GetClientConfig()

	for _, name := range []string{"tcp", "unix"} {
		viper.Set("transport", name)
		connector, err := GetConnector(config)
		if err != nil {
			t.Fatalf("Failed to create %s connector: %v", name, err)
		}
		if connector.GetName() != name {
			t.Errorf("Expected connector %s, got %s", name, connector.GetName())
		}
	}

	viper.Set("transport", "http")
	if _, err := GetConnector(config); err == nil {
		t.Error("Expected error for unsupported transport")
	}
}
