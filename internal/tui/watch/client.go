package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sl224/casparianflow-sub011/internal/wire"
)

// --- Message types ---

type healthMsg wire.HealthzResponse

type jobsMsg []wire.JobView

type workersMsg []wire.WorkerView

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	var h wire.HealthzResponse
	if err := getJSON(apiURL+"/healthz", &h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

// fetchJobs queries the operator jobs endpoint.
func fetchJobs(apiURL string) tea.Msg {
	var jobs []wire.JobView
	if err := getJSON(apiURL+"/v1/jobs?limit=50", &jobs); err != nil {
		return errMsg(err)
	}
	return jobsMsg(jobs)
}

// fetchWorkers queries the operator workers endpoint.
func fetchWorkers(apiURL string) tea.Msg {
	var workers []wire.WorkerView
	if err := getJSON(apiURL+"/v1/workers", &workers); err != nil {
		return errMsg(err)
	}
	return workersMsg(workers)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
