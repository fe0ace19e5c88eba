// Package lms talks to a remote learning management system: the progress
// store, the xAPI sink, the course catalog and the quiz grading service.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/session"
	"github.com/pot-code/course-playback/internal/syncer"
)

const maxErrorBody = 512

// Client LMS REST client
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var (
	_ syncer.Transport       = &Client{}
	_ session.Grader         = &Client{}
	_ domain.CourseUseCase   = &Client{}
	_ domain.ProgressUseCase = &Client{}
)

// Option client option
type Option func(*Client)

// WithToken bearer token sent on every request
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replace the underlying http client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient create a client for the LMS rooted at baseURL
func NewClient(baseURL string, timeout time.Duration, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// StatusError non-2xx response
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lms: %s %s status=%d body=%s", e.Method, e.URL, e.Status, e.Body)
}

// SendProgress implement syncer.Transport
func (c *Client) SendProgress(ctx context.Context, deltas []domain.ProgressDelta) error {
	err := c.do(ctx, http.MethodPost, "/progress/deltas", map[string]interface{}{"deltas": deltas}, nil)
	return errors.Wrap(classify(err), "send progress")
}

// SendStatements implement syncer.Transport
func (c *Client) SendStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	err := c.do(ctx, http.MethodPost, "/xapi/statements", stmts, nil)
	return errors.Wrap(classify(err), "send statements")
}

// ApplyDeltas implement domain.ProgressUseCase
func (c *Client) ApplyDeltas(ctx context.Context, deltas []domain.ProgressDelta) error {
	return c.SendProgress(ctx, deltas)
}

// GetSnapshot implement domain.ProgressUseCase
func (c *Client) GetSnapshot(ctx context.Context, learnerID, courseID string) (*domain.CourseProgressSnapshot, error) {
	snapshot := new(domain.CourseProgressSnapshot)
	path := fmt.Sprintf("/learners/%s/courses/%s/progress", url.PathEscape(learnerID), url.PathEscape(courseID))
	if err := c.do(ctx, http.MethodGet, path, nil, snapshot); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return &domain.CourseProgressSnapshot{CourseID: courseID, LearnerID: learnerID, LessonProgress: make(domain.ProgressMap)}, nil
		}
		return nil, errors.Wrap(err, "get progress snapshot")
	}
	if snapshot.LessonProgress == nil {
		snapshot.LessonProgress = make(domain.ProgressMap)
	}
	return snapshot, nil
}

// GetCourse implement domain.CourseUseCase
func (c *Client) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	course := new(domain.Course)
	if err := c.do(ctx, http.MethodGet, "/courses/"+url.PathEscape(courseID), nil, course); err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, domain.ErrCourseNotFound
		}
		return nil, errors.Wrap(err, "get course")
	}
	return course, nil
}

// Grade implement session.Grader
func (c *Client) Grade(ctx context.Context, assessmentID string, answers json.RawMessage) (session.GradeResult, error) {
	var result session.GradeResult
	path := "/assessments/" + url.PathEscape(assessmentID) + "/grade"
	if err := c.do(ctx, http.MethodPost, path, map[string]json.RawMessage{"answers": answers}, &result); err != nil {
		return session.GradeResult{}, errors.Wrap(err, "grade assessment")
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return &StatusError{Method: method, URL: req.URL.String(), Status: resp.StatusCode, Body: snippet}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}

// classify status errors into domain sync errors, network errors stay transient
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) {
		return domain.NewSyncError(se.Status, se)
	}
	return err
}

func isStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
