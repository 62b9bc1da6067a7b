// Package apiclient implements the reservation collaborators over the
// slot reservation HTTP API: the booked snapshot, the booking commit, the
// profile handle and the wallet balance.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/iliyamo/slot-reservation/internal/model"
	"github.com/iliyamo/slot-reservation/internal/reservation"
)

// Client talks to one API base URL on behalf of one user.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// New returns a Client with a 10 second request timeout.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

var (
	_ reservation.SnapshotFetcher = (*Client)(nil)
	_ reservation.Committer       = (*Client)(nil)
	_ reservation.ProfileLookup   = (*Client)(nil)
	_ reservation.BalanceLookup   = (*Client)(nil)
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error     string `json:"error"`
	Field     string `json:"field"`
	Message   string `json:"message"`
	Indexes   []int  `json:"indexes"`
	Required  int64  `json:"required"`
	Available int64  `json:"available"`
}

// Match loads a match.
func (c *Client) Match(ctx context.Context, matchID uint64) (model.Match, error) {
	var m model.Match
	err := c.getJSON(ctx, "load match", "/v1/matches/"+strconv.FormatUint(matchID, 10), &m)
	return m, err
}

// BookedPositions implements reservation.SnapshotFetcher.
func (c *Client) BookedPositions(ctx context.Context, matchID uint64) ([]int, error) {
	var body struct {
		Indexes []int `json:"indexes"`
	}
	err := c.getJSON(ctx, "fetch booked positions", "/v1/matches/"+strconv.FormatUint(matchID, 10)+"/booked-positions", &body)
	return body.Indexes, err
}

// Handle implements reservation.ProfileLookup.
func (c *Client) Handle(ctx context.Context) (string, error) {
	var body struct {
		Handle string `json:"handle"`
	}
	err := c.getJSON(ctx, "load profile", "/v1/me/profile", &body)
	return body.Handle, err
}

// Balance implements reservation.BalanceLookup.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var body struct {
		Balance int64 `json:"balance"`
	}
	err := c.getJSON(ctx, "load wallet", "/v1/me/wallet", &body)
	return body.Balance, err
}

// CreateBooking implements reservation.Committer.  The payload is sent
// exactly once; rejections come back as the reservation package's typed
// errors.
func (c *Client) CreateBooking(ctx context.Context, matchID uint64, p model.BookingPayload) (reservation.Receipt, error) {
	const op = "create booking"
	body, err := json.Marshal(p)
	if err != nil {
		return reservation.Receipt{}, &reservation.TransientNetworkError{Op: op, Err: err}
	}
	path := "/v1/matches/" + strconv.FormatUint(matchID, 10) + "/bookings"
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return reservation.Receipt{}, &reservation.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var r reservation.Receipt
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return reservation.Receipt{}, &reservation.TransientNetworkError{Op: op, Err: err}
		}
		return r, nil
	}

	ae := readError(resp)
	switch {
	case resp.StatusCode == http.StatusConflict && ae.Error == "position_already_booked":
		return reservation.Receipt{}, &reservation.ConflictError{Indexes: ae.Indexes}
	case resp.StatusCode == http.StatusPaymentRequired:
		return reservation.Receipt{}, &reservation.InsufficientFundsError{Required: ae.Required, Available: ae.Available}
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusConflict:
		msg := ae.Message
		if msg == "" {
			msg = ae.Error
		}
		return reservation.Receipt{}, &reservation.ValidationError{
			Rule:    reservation.RuleServerRejected,
			Field:   ae.Field,
			Message: msg,
		}
	}
	return reservation.Receipt{}, &reservation.TransientNetworkError{Op: op, Err: statusError(resp.StatusCode, ae)}
}

// LocksURL returns the websocket URL of a match's lock channel.
func (c *Client) LocksURL(matchID uint64) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/matches/" + strconv.FormatUint(matchID, 10) + "/locks"
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return &reservation.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &reservation.TransientNetworkError{Op: op, Err: statusError(resp.StatusCode, readError(resp))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &reservation.TransientNetworkError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	log.Debug("api request", "method", method, "path", path)
	return c.HTTP.Do(req)
}

func readError(resp *http.Response) apiError {
	var ae apiError
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err == nil {
		_ = json.Unmarshal(data, &ae)
	}
	return ae
}

func statusError(code int, ae apiError) error {
	if ae.Error != "" {
		return fmt.Errorf("unexpected status %d: %s", code, ae.Error)
	}
	return fmt.Errorf("unexpected status %d", code)
}
