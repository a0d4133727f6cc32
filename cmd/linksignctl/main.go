package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type client struct {
	BaseURL   string
	APIKey    string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-Admin-API-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cl := &client{
		BaseURL:   envOr("LINKSIGN_URL", "http://localhost:8080"),
		APIKey:    envOr("LINKSIGN_ADMIN_KEY", ""),
		OutFormat: envOr("LINKSIGN_OUT", "text"),
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}

	root := &cobra.Command{
		Use:   "linksignctl",
		Short: "CLI admin para linksign (claves de firma)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cl.APIKey == "" {
				return fmt.Errorf("falta API key (flag --admin-api-key o env LINKSIGN_ADMIN_KEY)")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cl.BaseURL, "url", cl.BaseURL, "URL base del servicio (env LINKSIGN_URL)")
	root.PersistentFlags().StringVar(&cl.APIKey, "admin-api-key", cl.APIKey, "API key del Admin API (env LINKSIGN_ADMIN_KEY)")
	root.PersistentFlags().StringVar(&cl.OutFormat, "out", cl.OutFormat, "Formato de salida: json|text")

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Ciclo de vida de claves de firma",
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Lista todas las claves con su estado",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/admin/keys", nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "rotate",
		Short: "Genera una clave nueva ACTIVE y desactiva la anterior",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("POST", "/v1/admin/keys/rotate", nil)
			if err != nil {
				return err
			}
			if status == http.StatusConflict {
				fmt.Fprintln(os.Stderr, "rotación en curso en otra instancia; reintente en unos segundos")
			}
			cl.print(status, body)
			return nil
		},
	})

	keysCmd.AddCommand(&cobra.Command{
		Use:   "retire <kid>",
		Short: "Retira una clave en forma permanente (revoca sus tokens)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("DELETE", "/v1/admin/keys/"+args[0], nil)
			if err != nil {
				return err
			}
			cl.print(status, body)
			return nil
		},
	})

	root.AddCommand(keysCmd)

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Ping al Admin API (requiere X-Admin-API-Key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/admin/keys", nil)
			if err != nil {
				return err
			}
			if status == http.StatusOK {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
