// services/dataverse_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"imi-student-dashboard/config"

	"golang.org/x/oauth2/clientcredentials"
)

const dataverseAPIPath = "/api/data/v9.2"

// DataverseClient talks to the CRM Web API. Tokens come from an OAuth2
// client-credentials source that caches and refreshes them per client instance.
type DataverseClient struct {
	BaseURL string
	Client  *http.Client
}

// Contact is the subset of a Dataverse contact the dashboard uses.
type Contact struct {
	ContactID  string    `json:"contactid"`
	FullName   string    `json:"fullname"`
	Email      string    `json:"emailaddress1"`
	Cohort     *string   `json:"imi_cohort,omitempty"`
	ModifiedOn time.Time `json:"modifiedon"`
}

type contactList struct {
	Value    []Contact `json:"value"`
	NextLink string    `json:"@odata.nextLink"`
}

// NewDataverseClient builds a client authenticated against Azure AD for cfg.BaseURL.
func NewDataverseClient(ctx context.Context, cfg config.DataverseConfig) *DataverseClient {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
		Scopes:       []string{cfg.BaseURL + "/.default"},
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second
	return NewDataverseClientWithHTTP(cfg.BaseURL, httpClient)
}

// NewDataverseClientWithHTTP uses an already-authenticated http.Client.
func NewDataverseClientWithHTTP(baseURL string, client *http.Client) *DataverseClient {
	return &DataverseClient{BaseURL: baseURL, Client: client}
}

// ListContactsModifiedSince pages through every contact modified after since.
func (c *DataverseClient) ListContactsModifiedSince(ctx context.Context, since time.Time) ([]Contact, error) {
	u, err := url.Parse(c.BaseURL + dataverseAPIPath + "/contacts")
	if err != nil {
		return nil, fmt.Errorf("invalid dataverse url %q: %w", c.BaseURL, err)
	}
	q := u.Query()
	q.Set("$select", "contactid,fullname,emailaddress1,imi_cohort,modifiedon")
	q.Set("$filter", fmt.Sprintf("modifiedon gt %s", since.UTC().Format(time.RFC3339)))
	q.Set("$orderby", "modifiedon asc")
	u.RawQuery = q.Encode()

	var contacts []Contact
	next := u.String()
	for next != "" {
		var page contactList
		if err := c.do(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		contacts = append(contacts, page.Value...)
		next = page.NextLink
	}
	return contacts, nil
}

// UpdateContact PATCHes the given columns onto a contact.
func (c *DataverseClient) UpdateContact(ctx context.Context, contactID string, columns map[string]any) error {
	endpoint := fmt.Sprintf("%s%s/contacts(%s)", c.BaseURL, dataverseAPIPath, url.PathEscape(contactID))
	return c.do(ctx, http.MethodPatch, endpoint, columns, nil)
}

func (c *DataverseClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode dataverse request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("If-Match", "*") // update only, never upsert-create
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("dataverse %s failed: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("dataverse returned status %d: %s", resp.StatusCode, string(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode dataverse response: %w", err)
	}
	return nil
}
