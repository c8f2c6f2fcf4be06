package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultServerAddr = "localhost:8088"
	timeFormat        = "15:04:05.000"
)

// streamEvent - событие из /ws/events
type streamEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Source   string          `json:"source"`
	Time     time.Time       `json:"ts"`
	Reliable bool            `json:"reliable"`
	Data     json.RawMessage `json:"data"`
}

func main() {
	var (
		serverAddr = flag.String("server", defaultServerAddr, "admin API address")
		command    = flag.String("cmd", "tail", "Command: tail, status, objects, blocks")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		limit      = flag.Int("limit", 0, "Stop after N events (0 - unlimited)")
		token      = flag.String("token", os.Getenv("FREEMINER_TOKEN"), "Admin API token (server.auth.enabled)")
	)
	flag.Parse()

	var err error
	switch *command {
	case "tail":
		err = tailEvents(*serverAddr, parseStringList(*eventTypes), *limit, *token)
	case "status":
		err = printJSON(*serverAddr, "/api/v1/status", *token)
	case "objects":
		err = printJSON(*serverAddr, "/api/v1/objects", *token)
	case "blocks":
		err = printJSON(*serverAddr, "/api/v1/blocks/active", *token)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", *command, err)
	}
}

// tailEvents печатает события окружения до Ctrl+C или до limit
func tailEvents(addr string, types []string, limit int, token string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/events"}
	if len(types) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(types, ",")}}.Encode()
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	fmt.Printf("Tailing %s (limit: %d)\n", u.String(), limit)
	count := 0
	for limit == 0 || count < limit {
		var ev streamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			// Закрытие по Ctrl+C или со стороны сервера завершает просмотр
			break
		}
		printEvent(&ev)
		count++
	}
	fmt.Printf("\nTotal events: %d\n", count)
	return nil
}

func printEvent(ev *streamEvent) {
	reliable := "unreliable"
	if ev.Reliable {
		reliable = "reliable"
	}
	fmt.Printf("[%s] %s/%s [%s] %s\n", ev.Time.Local().Format(timeFormat), ev.Source, ev.Type, reliable, ev.Data)
}

func printJSON(addr, path, token string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	var out interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(pretty))
	return nil
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
