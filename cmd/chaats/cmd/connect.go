package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nfrund/chaats/internal/domain"
	"github.com/nfrund/chaats/internal/identity"
	"github.com/nfrund/chaats/internal/logging"
)

var connectOpts struct {
	url    string
	token  string
	user   int64
	secret string
	issuer string
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Open an interactive session against a running server",
	Long: `Connects to the WebSocket endpoint and relays stdin to the server.

Each input line is sent as a frame. A line starting with "{" is sent as is;
"@<id> <text>" sends a direct message and "history <id>" requests history.
Frames from the server are printed as they arrive.

Without --token a short-lived development token is signed for --user with
--secret (defaults to JWT_SECRET).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := connectToken()
		if err != nil {
			return err
		}

		header := http.Header{"Authorization": []string{"Bearer " + token}}
		conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), connectOpts.url, header)
		if err != nil {
			return fmt.Errorf("dial %s: %w", connectOpts.url, err)
		}
		defer conn.Close()

		out := cmd.OutOrStdout()
		done := make(chan error, 1)
		go func() { done <- printFrames(conn, out) }()

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			frame, err := parseLine(scanner.Text())
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				continue
			}
			if frame == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}

		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			return nil
		}
	},
}

func init() {
	f := connectCmd.Flags()
	f.StringVar(&connectOpts.url, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	f.StringVar(&connectOpts.token, "token", "", "bearer token")
	f.Int64Var(&connectOpts.user, "user", 0, "user ID to sign a development token for")
	f.StringVar(&connectOpts.secret, "secret", "", "HS256 secret for development tokens (default $JWT_SECRET)")
	f.StringVar(&connectOpts.issuer, "issuer", "", "issuer for development tokens (default $JWT_ISSUER)")
	rootCmd.AddCommand(connectCmd)
}

func connectToken() (string, error) {
	if connectOpts.token != "" {
		return connectOpts.token, nil
	}
	if connectOpts.user <= 0 {
		return "", errors.New("either --token or --user is required")
	}
	secret := firstNonEmpty(connectOpts.secret, os.Getenv("JWT_SECRET"))
	if secret == "" {
		return "", errors.New("--secret or JWT_SECRET is required to sign a development token")
	}

	var opts []identity.Option
	if issuer := firstNonEmpty(connectOpts.issuer, os.Getenv("JWT_ISSUER")); issuer != "" {
		opts = append(opts, identity.WithIssuer(issuer))
	}
	opts = append(opts, identity.WithLogger(logging.Discard()))
	// Signing never touches the profile store.
	return identity.NewJWTProvider(secret, nil, opts...).Issue(domain.UserID(connectOpts.user), time.Hour)
}

// parseLine turns one line of input into a frame. Blank lines yield nil.
func parseLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil, nil
	case strings.HasPrefix(line, "{"):
		if !json.Valid([]byte(line)) {
			return nil, errors.New("invalid JSON")
		}
		return []byte(line), nil
	case strings.HasPrefix(line, "@"):
		target, content, _ := strings.Cut(line[1:], " ")
		id, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad user id %q", target)
		}
		return json.Marshal(map[string]any{
			"action":      "direct_message",
			"receiver_id": id,
			"content":     content,
		})
	case strings.HasPrefix(line, "history "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "history ")), 10, 64)
		if err != nil {
			return nil, errors.New("usage: history <user id>")
		}
		return json.Marshal(map[string]any{"action": "message_history", "receiver_id": id})
	default:
		return nil, errors.New(`unrecognised input; send JSON, "@<id> <text>" or "history <id>"`)
	}
}

func printFrames(conn *websocket.Conn, out io.Writer) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				fmt.Fprintf(out, "closed: %d %s\n", ce.Code, ce.Text)
				if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway {
					return nil
				}
				return fmt.Errorf("connection closed with status %d", ce.Code)
			}
			return err
		}
		fmt.Fprintln(out, string(data))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
