// Command client is a diagnostic consumer for the stream server: it
// connects to a session, decodes frames, and prints a running summary.
// With -list it renders the session table from the control API instead.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"

	"github.com/bcistream/pkg/session"
	"github.com/bcistream/pkg/wire"
)

func main() {
	host := flag.String("host", "localhost:8000", "server host:port")
	code := flag.String("session", "", "session code (empty: server assigns one)")
	binary := flag.Bool("binary", false, "use the msgpack binary endpoint")
	count := flag.Int("n", 50, "packets to consume before exiting")
	list := flag.Bool("list", false, "list active sessions and exit")
	flag.Parse()

	if *list {
		listSessions(*host)
		return
	}

	sessionCode := *code
	if sessionCode == "" {
		sessionCode = createSession(*host)
	}

	path := "/stream/" + sessionCode
	if *binary {
		path = "/stream/binary/" + sessionCode
	}
	u := url.URL{Scheme: "ws", Host: *host, Path: path}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	enc := wire.JSON
	if *binary {
		enc = wire.Msgpack
	}

	start := time.Now()
	for i := 0; i <= *count; i++ {
		_, payload, err := c.ReadMessage()
		if err != nil {
			log.Fatal("read:", err)
		}
		var env struct {
			Type string          `json:"type" msgpack:"type"`
			Data json.RawMessage `json:"data" msgpack:"-"`
		}
		if err := enc.Unmarshal(payload, &env); err != nil {
			log.Fatal("decode:", err)
		}
		switch env.Type {
		case wire.TypeMetadata:
			fmt.Printf("session %s: %d bytes of metadata (%s encoding)\n",
				sessionCode, len(payload), enc.Name())
		case wire.TypeData:
			if i%10 == 0 {
				fmt.Printf("packet %d/%d (%d bytes)\n", i, *count, len(payload))
			}
		}
	}
	elapsed := time.Since(start)
	fmt.Printf("%d packets in %s (%.1f Hz)\n", *count, elapsed.Round(time.Millisecond),
		float64(*count)/elapsed.Seconds())
}

func createSession(host string) string {
	resp, err := http.Post("http://"+host+"/api/sessions/create", "", nil)
	if err != nil {
		log.Fatal("create session:", err)
	}
	defer resp.Body.Close()
	var out struct {
		SessionCode string `json:"session_code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal("create session:", err)
	}
	fmt.Printf("created session %s\n", out.SessionCode)
	return out.SessionCode
}

func listSessions(host string) {
	resp, err := http.Get("http://" + host + "/api/sessions")
	if err != nil {
		log.Fatal("list sessions:", err)
	}
	defer resp.Body.Close()
	var out struct {
		Sessions []session.Info `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal("list sessions:", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Code", "Conns", "Running", "Paused", "Index", "Packets", "Idle (s)"})
	for _, s := range out.Sessions {
		table.Append([]string{
			s.SessionCode,
			fmt.Sprintf("%d", s.Connections),
			fmt.Sprintf("%t", s.IsRunning),
			fmt.Sprintf("%t", s.IsPaused),
			fmt.Sprintf("%d", s.CurrentIndex),
			fmt.Sprintf("%d", s.PacketsSent),
			fmt.Sprintf("%.0f", s.IdleSeconds),
		})
	}
	table.Render()
}
