package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"MNEE-Nexus/sdk/go/nexus"
)

func main() {
	selection := ""
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/selection", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AgentID string `json:"agent_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		selection = body.AgentID
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/api/v1/hire", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(nexus.Attempt{ID: "demo-attempt", Agent: selection, Phase: "validating", StartedAt: time.Now().UTC()})
	})
	mux.HandleFunc("/api/v1/logs", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]nexus.Entry{
			{ID: "2", Text: "SUCCESS! Signal Sent (Task #7). Awaiting Data...", Kind: "success"},
			{ID: "1", Text: "INITIATING SEQUENCE FOR ALICE. Step 1/2: Approving 10 MNEE...", Kind: "progress"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := nexus.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	agent, err := client.Select(ctx, "alice")
	if err != nil {
		panic(err)
	}
	fmt.Printf("selected %s\n", agent)

	attempt, err := client.Hire(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("dispatched attempt %s (phase=%s)\n", attempt.ID, attempt.Phase)

	entries, err := client.Logs(ctx, 10)
	if err != nil {
		panic(err)
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s\n", e.Kind, e.Text)
	}
}
