package util

import (
	"fmt"
	"github.com/ValentinKolb/dStream/rpc/client"
	"github.com/ValentinKolb/dStream/rpc/common"
	"github.com/ValentinKolb/dStream/rpc/transport"
	"github.com/ValentinKolb/dStream/rpc/transport/tcp"
	"github.com/ValentinKolb/dStream/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the broker connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "endpoints"
	cmd.PersistentFlags().String(key, strings.Join(defaults.Transport.Endpoints, ","), WrapString("The broker addresses as a comma-separated list (host:port for tcp, socket path for unix). They are tried in order"))

	key = "transport"
	cmd.PersistentFlags().String(key, "tcp", WrapString("transport to use (tcp, unix)"))

	key = "user"
	cmd.PersistentFlags().String(key, defaults.Username, WrapString("The user name for SASL PLAIN authentication"))

	key = "password"
	cmd.PersistentFlags().String(key, defaults.Password, WrapString("The password for SASL PLAIN authentication"))

	key = "vhost"
	cmd.PersistentFlags().String(key, defaults.VirtualHost, WrapString("The virtual host to open"))

	key = "connection-name"
	cmd.PersistentFlags().String(key, "", WrapString("The connection name announced to the broker (default: dstream-<uuid>)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, defaults.TimeoutSecond, WrapString("The timeout in seconds for requests to the broker (0 = no timeout)"))

	key = "heartbeat"
	cmd.PersistentFlags().Uint32(key, defaults.HeartbeatSecond, WrapString("The heartbeat interval in seconds proposed to the broker (0 = disabled)"))

	key = "max-frame-size"
	cmd.PersistentFlags().Uint32(key, defaults.MaxFrameSize, WrapString("The maximum frame size in bytes proposed to the broker"))

	key = "check-crc"
	cmd.PersistentFlags().Bool(key, defaults.CheckCRC, WrapString("Whether to validate the checksum of received chunks"))

	key = "credits"
	cmd.PersistentFlags().Uint16(key, defaults.InitialCredits, WrapString("The number of chunks the broker may send ahead of the consumer"))

	key = "reconnect-base"
	cmd.PersistentFlags().Int64(key, defaults.ReconnectBaseMillisecond, WrapString("The first reconnect delay in milliseconds, doubled after every failed attempt"))

	key = "reconnect-max"
	cmd.PersistentFlags().Int64(key, defaults.ReconnectMaxMillisecond, WrapString("The maximum reconnect delay in milliseconds (0 = no cap)"))

	key = "reconnect-attempts"
	cmd.PersistentFlags().Int(key, defaults.MaxReconnectAttempts, WrapString("How many consecutive reconnect attempts are made before giving up (0 = unlimited)"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, defaults.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, defaults.Transport.TCPKeepAliveSec, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, defaults.Transport.TCPLingerSec, WrapString("The linger time (in seconds, only for tcp, negative keeps the OS default)"))

	key = "transport-dial-timeout"
	cmd.PersistentFlags().Int(key, defaults.Transport.DialTimeoutSecond, WrapString("The timeout for establishing the socket (in seconds)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, defaults.LogLevel, WrapString("The log level (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dstream")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := common.DefaultClientConfig()

	conf.Transport = common.TransportConfig{
		Endpoints:         strings.Split(viper.GetString("endpoints"), ","),
		DialTimeoutSecond: viper.GetInt("transport-dial-timeout"),
		TCPNoDelay:        viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec:   viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:      viper.GetInt("transport-tcp-linger"),
		WriteBufferSize:   viper.GetInt("transport-write-buffer") * 1024,
		ReadBufferSize:    viper.GetInt("transport-read-buffer") * 1024,
	}
	conf.Username = viper.GetString("user")
	conf.Password = viper.GetString("password")
	conf.VirtualHost = viper.GetString("vhost")
	if name := viper.GetString("connection-name"); name != "" {
		conf.ConnectionName = name
	}
	conf.TimeoutSecond = viper.GetInt("timeout")
	conf.HeartbeatSecond = viper.GetUint32("heartbeat")
	conf.MaxFrameSize = viper.GetUint32("max-frame-size")
	conf.CheckCRC = viper.GetBool("check-crc")
	conf.InitialCredits = viper.GetUint16("credits")
	conf.ReconnectBaseMillisecond = viper.GetInt64("reconnect-base")
	conf.ReconnectMaxMillisecond = viper.GetInt64("reconnect-max")
	conf.MaxReconnectAttempts = viper.GetInt("reconnect-attempts")
	conf.LogLevel = viper.GetString("log-level")

	return &conf
}

// GetConnector creates the connector based on configuration
func GetConnector(config *common.ClientConfig) (transport.IClientConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPConnector(config.Transport), nil
	case "unix":
		return unix.NewUnixConnector(config.Transport), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// Setup binds the flags of cmd, initializes the loggers and returns the client
// configuration together with its connector
func Setup(cmd *cobra.Command) (*common.ClientConfig, transport.IClientConnector, error) {
	if err := BindCommandFlags(cmd); err != nil {
		return nil, nil, err
	}

	config := GetClientConfig()
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return nil, nil, err
	}

	connector, err := GetConnector(config)
	if err != nil {
		return nil, nil, err
	}
	return config, connector, nil
}

// DumpMetrics writes the process metrics to stderr if the metrics flag is set
func DumpMetrics() {
	if viper.GetBool("metrics") {
		fmt.Fprintln(os.Stderr)
		client.WritePrometheus(os.Stderr)
	}
}
