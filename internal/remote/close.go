package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/RMSTrucks/jakebot/internal/model"
)

// DefaultCloseBaseURL is the Close.com REST API root.
const DefaultCloseBaseURL = "https://api.close.com/api/v1"

// Close creates lead tasks in Close.com.
type Close struct {
	*endpoint
	apiKey  string
	baseURL string
}

// NewClose creates a Close client. baseURL defaults to DefaultCloseBaseURL.
func NewClose(apiKey, baseURL string, opts Options) (*Close, error) {
	if apiKey == "" {
		return nil, errors.New("close: api key is required")
	}
	if baseURL == "" {
		baseURL = DefaultCloseBaseURL
	}
	return &Close{
		endpoint: newEndpoint(model.TargetCRM, opts),
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

type closeTask struct {
	Type       string `json:"_type"`
	LeadID     string `json:"lead_id"`
	Text       string `json:"text"`
	Date       string `json:"date,omitempty"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

type closeTaskResponse struct {
	ID string `json:"id"`
}

// CreateTask implements Client.
func (c *Close) CreateTask(ctx context.Context, req model.TaskRequest) model.Outcome {
	body := closeTask{
		Type:       "lead",
		LeadID:     req.LeadID,
		Text:       req.Title,
		AssignedTo: req.UserID,
	}
	if !req.DueDate.IsZero() {
		body.Date = req.DueDate.Format("2006-01-02")
	}

	return c.dispatch(ctx, req, func(ctx context.Context) (string, error) {
		var resp closeTaskResponse
		err := c.postJSON(ctx, c.baseURL+"/task/", body, &resp, c.auth)
		return resp.ID, err
	})
}

type closeCallActivity struct {
	ID                  string `json:"id"`
	RecordingTranscript *struct {
		SummaryText string `json:"summary_text"`
	} `json:"recording_transcript"`
}

// GetCallTranscript fetches the transcript summary of a call activity. A call
// without a transcript returns "".
func (c *Close) GetCallTranscript(ctx context.Context, callID string) (string, error) {
	if callID == "" {
		return "", model.NewValidationError("call_id", "is required")
	}
	endpoint := fmt.Sprintf("%s/activity/call/%s/?_fields=recording_transcript", c.baseURL, url.PathEscape(callID))

	var activity closeCallActivity
	err := c.retry(ctx, func(actx context.Context) error {
		return c.getJSON(actx, endpoint, &activity, c.auth)
	})
	if err != nil {
		return "", err
	}
	if activity.RecordingTranscript == nil {
		return "", nil
	}
	return activity.RecordingTranscript.SummaryText, nil
}

// Close uses the API key as the basic auth username.
func (c *Close) auth(r *http.Request) {
	r.SetBasicAuth(c.apiKey, "")
}

type closeTaskUpdate struct {
	IsComplete bool `json:"is_complete"`
}

// UpdateTask implements TaskUpdater. Close tasks only know complete and
// open, so cancelled and rejected tasks are deleted.
func (c *Close) UpdateTask(ctx context.Context, remoteID string, upd model.TaskUpdate) error {
	if remoteID == "" {
		return model.NewValidationError("remote_id", "is required")
	}
	endpoint := fmt.Sprintf("%s/task/%s/", c.baseURL, url.PathEscape(remoteID))

	return c.retry(ctx, func(actx context.Context) error {
		switch upd.Status {
		case model.TaskCancelled, model.TaskRejected:
			return c.doJSON(actx, http.MethodDelete, endpoint, nil, nil, c.auth)
		}
		body := closeTaskUpdate{IsComplete: upd.Status == model.TaskCompleted}
		return c.sendJSON(actx, http.MethodPut, endpoint, body, nil, c.auth)
	})
}
