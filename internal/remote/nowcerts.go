package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RMSTrucks/jakebot/internal/model"
)

const (
	// DefaultNowCertsBaseURL is the NowCerts REST API root.
	DefaultNowCertsBaseURL = "https://api.nowcerts.com/api"
	nowCertsAPIVersion     = "2.1.5"
)

// NowCerts creates tasks in the NowCerts agency management system.
type NowCerts struct {
	*endpoint
	apiKey  string
	baseURL string
}

// NewNowCerts creates a NowCerts client. baseURL defaults to DefaultNowCertsBaseURL.
func NewNowCerts(apiKey, baseURL string, opts Options) (*NowCerts, error) {
	if apiKey == "" {
		return nil, errors.New("nowcerts: api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultNowCertsBaseURL
	}
	return &NowCerts{
		endpoint: newEndpoint(model.TargetAgency, opts),
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

type nowCertsTask struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DueDate     string `json:"dueDate,omitempty"`
	Priority    string `json:"priority"`
	ExternalID  string `json:"externalId"`
	AssignedTo  string `json:"assignedTo,omitempty"`
}

// NowCerts answers with either "id" or "taskId" depending on API version.
type nowCertsTaskResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
}

// CreateTask implements Client.
func (n *NowCerts) CreateTask(ctx context.Context, req model.TaskRequest) model.Outcome {
	body := nowCertsTask{
		Title:       req.Title,
		Description: req.Description,
		Priority:    string(req.Priority),
		ExternalID:  req.LeadID,
		AssignedTo:  req.UserName,
	}
	if !req.DueDate.IsZero() {
		body.DueDate = req.DueDate.UTC().Format(time.RFC3339)
	}

	return n.dispatch(ctx, req, func(ctx context.Context) (string, error) {
		var resp nowCertsTaskResponse
		err := n.postJSON(ctx, n.baseURL+"/Zapier/InsertTask", body, &resp, n.auth)
		if resp.ID == "" {
			resp.ID = resp.TaskID
		}
		return resp.ID, err
	})
}

func (n *NowCerts) auth(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+n.apiKey)
	r.Header.Set("X-Api-Version", nowCertsAPIVersion)
}

type nowCertsActivityUpdate struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

// UpdateTask implements TaskUpdater.
func (n *NowCerts) UpdateTask(ctx context.Context, remoteID string, upd model.TaskUpdate) error {
	if remoteID == "" {
		return model.NewValidationError("remote_id", "is required")
	}
	endpoint := fmt.Sprintf("%s/activity/%s", n.baseURL, url.PathEscape(remoteID))
	body := nowCertsActivityUpdate{Status: string(upd.Status), Notes: upd.Notes}

	return n.retry(ctx, func(actx context.Context) error {
		return n.sendJSON(actx, http.MethodPut, endpoint, body, nil, n.auth)
	})
}
