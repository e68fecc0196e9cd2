// Package main provides a simple CLI client for the acpd run API: it starts
// runs, follows their event streams over WebSocket, and resolves pauses.
package main

import (
	"bufio"
	"bytes"
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

	"github.com/xiaohan0616/acpd/internal/domain"
)

// Client talks to one acpd server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun creates an async run for the agent with a single text message.
func (c *Client) StartRun(agentName, text string) (*domain.Run, error) {
	body, err := json.Marshal(domain.RunCreateRequest{
		AgentName: agentName,
		Mode:      domain.RunModeAsync,
		Input: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.MessagePart{domain.TextPart(text)}},
		},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("create run: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// Resume posts a resume payload to an awaiting run.
func (c *Client) Resume(runID string, data json.RawMessage) (*domain.Run, error) {
	body, err := json.Marshal(domain.RunResumeRequest{
		AwaitResume: domain.AwaitResume{Data: data},
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/runs/"+runID, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resume run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("resume run: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var run domain.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

// Cancel signals a run's cancellation.
func (c *Client) Cancel(runID string) error {
	resp, err := c.http.Post(c.baseURL+"/runs/"+runID+"/cancel", "application/json", nil)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cancel run: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}

// Watch follows a run's event stream until the run reaches a terminal state
// or done is closed.
func (c *Client) Watch(runID string, done <-chan struct{}) error {
	wsURL, err := url.Parse(c.baseURL)
	if err != nil {
		return err
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/runs/" + runID + "/events/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	for {
		select {
		case <-done:
			return nil
		default:
			conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					return fmt.Errorf("read: %w", err)
				}
				return nil
			}

			var ev domain.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Printf("Unmarshal error: %v", err)
				continue
			}
			printEvent(ev)

			if ev.Run != nil && ev.Run.Status.IsTerminal() {
				return nil
			}
			if ev.Type == domain.EventTypeRunAwaiting && ev.Run != nil && ev.Run.AwaitRequest != nil {
				fmt.Printf("\nRun is awaiting (%s): %s\n", ev.Run.AwaitRequest.RequestType, ev.Run.AwaitRequest.Message)
				fmt.Printf("Resolve with: /resume %s <json>\n", ev.Run.RunID)
				return nil
			}
		}
	}
}

func printEvent(ev domain.Event) {
	switch ev.Type {
	case domain.EventTypeMessagePart:
		if ev.Part != nil && ev.Part.ContentType == "text/plain" {
			fmt.Printf("\n%s\n", ev.Part.Content)
			return
		}
	case domain.EventTypeMessageCreated, domain.EventTypeMessageCompleted:
		return
	}
	formatted, _ := json.MarshalIndent(ev, "", "  ")
	fmt.Printf("\n[%s]\n%s\n", ev.Type, string(formatted))
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "acpd server address")
	agentName := flag.String("agent", "claude", "agent name to run")
	flag.Parse()

	log.SetFlags(log.Ltime)

	client := NewClient(*addr)
	fmt.Printf("Connected to %s (agent: %s)\n", *addr, *agentName)
	fmt.Println("Type a message and press Enter to start a run.")
	fmt.Println("Commands: /resume <run_id> <json>, /cancel <run_id>, /quit")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})
	go func() {
		<-interrupt
		close(done)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch {
		case input == "/quit":
			fmt.Println("Bye!")
			return

		case strings.HasPrefix(input, "/cancel "):
			runID := strings.TrimSpace(strings.TrimPrefix(input, "/cancel "))
			if err := client.Cancel(runID); err != nil {
				log.Printf("Cancel error: %v", err)
				continue
			}
			fmt.Printf("Cancellation signalled for %s\n", runID)

		case strings.HasPrefix(input, "/resume "):
			fields := strings.SplitN(strings.TrimPrefix(input, "/resume "), " ", 2)
			if len(fields) != 2 {
				fmt.Println("Usage: /resume <run_id> <json>")
				continue
			}
			run, err := client.Resume(fields[0], json.RawMessage(fields[1]))
			if err != nil {
				log.Printf("Resume error: %v", err)
				continue
			}
			fmt.Printf("Run %s resumed (%s)\n", run.RunID, run.Status)
			if err := client.Watch(run.RunID, done); err != nil {
				log.Printf("Watch error: %v", err)
			}

		default:
			run, err := client.StartRun(*agentName, input)
			if err != nil {
				log.Printf("Start error: %v", err)
				continue
			}
			fmt.Printf("Run %s started\n", run.RunID)
			if err := client.Watch(run.RunID, done); err != nil {
				log.Printf("Watch error: %v", err)
			}
		}
	}
}
