package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const httpTimeout = 10 * time.Second

func init() {
	factory := func(dsn string, log logrus.FieldLogger) (Store, error) {
		return NewHTTPStore(dsn, nil, log)
	}
	Register("http", factory)
	Register("https", factory)
}

// HTTPStore is a client for the folio document server.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
	dialer *websocket.Dialer
	log    logrus.FieldLogger

	mu    sync.Mutex
	token string
}

// NewHTTPStore returns a client for the server at baseURL. A nil client
// uses one with a short timeout.
func NewHTTPStore(baseURL string, client *http.Client, log logrus.FieldLogger) (*HTTPStore, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid document server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("document server URL must be http or https, got %q", u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPStore{
		base:   u,
		client: client,
		dialer: &websocket.Dialer{HandshakeTimeout: httpTimeout},
		log:    log,
	}, nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Authenticate obtains an anonymous bearer token.
func (h *HTTPStore) Authenticate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token != "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint("/v1/auth/anonymous"), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticate: %w", statusError(resp))
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return fmt.Errorf("authenticate: decode token: %w", err)
	}
	if tr.Token == "" {
		return fmt.Errorf("authenticate: server returned an empty token")
	}
	h.token = tr.Token
	return nil
}

func (h *HTTPStore) bearer() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token == "" {
		return "", ErrNotAuthenticated
	}
	return "Bearer " + h.token, nil
}

func (h *HTTPStore) Get(ctx context.Context, name string) (Document, error) {
	resp, err := h.do(ctx, http.MethodGet, documentPath(name), nil)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Document{}, ErrDocumentNotFound
	default:
		return Document{}, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, err
	}
	return DecodeDocument(data)
}

func (h *HTTPStore) Merge(ctx context.Context, name string, doc Document) error {
	body, err := EncodeDocument(doc)
	if err != nil {
		return err
	}
	resp, err := h.do(ctx, http.MethodPatch, documentPath(name), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// Subscribe opens a websocket that streams every committed document.
func (h *HTTPStore) Subscribe(ctx context.Context, name string, onUpdate UpdateFunc, onError ErrorFunc) (Subscription, error) {
	auth, err := h.bearer()
	if err != nil {
		return nil, err
	}
	wsURL := *h.base
	if wsURL.Scheme == "https" {
		wsURL.Scheme = "wss"
	} else {
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + documentPath(name) + "/subscribe"

	header := http.Header{}
	header.Set("Authorization", auth)
	conn, resp, err := h.dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("subscribe: %w", statusError(resp))
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go sub.read(onUpdate, onError, h.log)
	return sub, nil
}

func (h *HTTPStore) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func (h *HTTPStore) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	auth, err := h.bearer()
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, h.endpoint(path), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", auth)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, ErrNotAuthenticated
	}
	return resp, nil
}

func (h *HTTPStore) endpoint(path string) string {
	return strings.TrimRight(h.base.String(), "/") + path
}

func documentPath(name string) string {
	return "/v1/documents/" + url.PathEscape(name)
}

func statusError(resp *http.Response) error {
	var er errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return fmt.Errorf("document server: %s (%d)", er.Error, resp.StatusCode)
	}
	return fmt.Errorf("document server: unexpected status %d", resp.StatusCode)
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *wsSubscription) read(onUpdate UpdateFunc, onError ErrorFunc, log logrus.FieldLogger) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			log.WithError(err).Warn("document subscription closed")
			if onError != nil {
				onError(err)
			}
			return
		}
		doc, err := DecodeDocument(data)
		if err != nil {
			log.WithError(err).Warn("ignoring malformed document update")
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		onUpdate(doc)
	}
}

func (s *wsSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
