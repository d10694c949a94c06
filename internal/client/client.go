// Package client is the operator API client used by studioctl. It keeps the
// session cookie in a jar and echoes the CSRF token on mutating requests.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/atinyakov/grillzstudio/internal/models"
	"github.com/atinyakov/grillzstudio/internal/service"
)

const csrfHeader = "X-CSRF-Token"

// APIError is a non-2xx API response.
type APIError struct {
	Status   int
	Message  string
	Redirect string
	Partial  bool
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api: %d %s", e.Status, e.Message)
	if e.Partial {
		msg += " (partial)"
	}
	if e.Redirect != "" {
		msg += " -> " + e.Redirect
	}
	return msg
}

// Client talks to the studio API.
type Client struct {
	baseURL string
	http    *http.Client
	csrf    string
}

// New creates a client for baseURL. When caFile is set, server certificates
// are verified against it.
func New(baseURL, caFile string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA cert")
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Transport: transport, Jar: jar, Timeout: 6 * time.Minute},
	}, nil
}

// token fetches the CSRF token once per client.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.csrf != "" {
		return c.csrf, nil
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/csrf", "", nil, &out); err != nil {
		return "", errors.Wrap(err, "fetch csrf token")
	}
	c.csrf = out.Token
	return c.csrf, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if method != http.MethodGet {
		token, err := c.token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set(csrfHeader, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error    string `json:"error"`
			Redirect string `json:"redirect"`
			Partial  bool   `json:"partial"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = string(bytes.TrimSpace(data))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error, Redirect: apiErr.Redirect, Partial: apiErr.Partial}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

func orderPath(email string, suffix string) string {
	return "/api/admin/orders/" + url.PathEscape(email) + suffix
}

func ticketPath(email string, suffix string) string {
	return "/api/admin/tickets/" + url.PathEscape(email) + suffix
}

// Login signs in with an email or the admin identifier.
func (c *Client) Login(ctx context.Context, identifier, password string) (*models.Principal, error) {
	var out struct {
		Principal *models.Principal `json:"principal"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", map[string]string{"identifier": identifier, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return out.Principal, nil
}

// Tickets lists all quote tickets, newest first.
func (c *Client) Tickets(ctx context.Context) ([]models.Ticket, error) {
	var out []models.Ticket
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/tickets?refresh=true", nil, &out)
	return out, err
}

// Approve promotes the pending ticket of email to an order.
func (c *Client) Approve(ctx context.Context, email string) (*models.Order, error) {
	var out models.Order
	if err := c.doJSON(ctx, http.MethodPost, ticketPath(email, "/approve"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Decline declines the pending ticket of email.
func (c *Client) Decline(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodPost, ticketPath(email, "/decline"), nil, nil)
}

// Orders lists all orders, newest first.
func (c *Client) Orders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	err := c.doJSON(ctx, http.MethodGet, "/api/admin/orders?refresh=true", nil, &out)
	return out, err
}

// SetStage moves the order of email to stage.
func (c *Client) SetStage(ctx context.Context, email string, stage int) (*models.Order, error) {
	var out models.Order
	if err := c.doJSON(ctx, http.MethodPut, orderPath(email, "/stage"), map[string]int{"stage": stage}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteOrder removes the order of email and reverts its ticket to pending.
func (c *Client) DeleteOrder(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodDelete, orderPath(email, ""), nil, nil)
}

// UploadDesign uploads the file at path as a custom design variant.
func (c *Client) UploadDesign(ctx context.Context, email, variant, path string) (*models.DesignRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read design: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("variantName", variant); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out models.DesignRef
	if err := c.do(ctx, http.MethodPost, orderPath(email, "/designs"), mw.FormDataContentType(), &buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerReset raises the trap-door flag of the order of email.
func (c *Client) TriggerReset(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodPost, orderPath(email, "/reset"), nil, nil)
}

// Reconcile runs the ticket/order consistency pass.
func (c *Client) Reconcile(ctx context.Context) (*service.ReconcileReport, error) {
	var out service.ReconcileReport
	if err := c.doJSON(ctx, http.MethodGet, "/api/admin/reconcile", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
