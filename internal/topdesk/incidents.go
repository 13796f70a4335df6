package topdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// collectPages walks the Topdesk paging protocol: the client asks for
// fixed-size pages by offset and the response status carries the signal.
// 200 is the final page with data, 204 means no data, 206 means more
// pages follow. Anything else is a transport error and is not retried
// here; the next sync cycle is the retry mechanism.
func (c *Client) collectPages(ctx context.Context, path string, extra url.Values, appendPage func(body io.Reader) error) error {
	start := 0
	for {
		params := url.Values{}
		for k, vs := range extra {
			params[k] = vs
		}
		params.Set("start", strconv.Itoa(start))
		params.Set("page_size", strconv.Itoa(c.pageSize))

		resp, err := c.get(ctx, path, params, "application/json")
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			// final page with data
			err := appendPage(resp.Body)
			resp.Body.Close()
			return err
		case http.StatusNoContent:
			resp.Body.Close()
			return nil
		case http.StatusPartialContent:
			err := appendPage(resp.Body)
			resp.Body.Close()
			if err != nil {
				return err
			}
			start += c.pageSize
		default:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode, Body: string(body)}
		}
	}
}

// ListIncidents returns every incident, ordered by ascending creation date
func (c *Client) ListIncidents(ctx context.Context) ([]Incident, error) {
	params := url.Values{}
	// Encodes as creation_date+ASC on the wire, which the server reads
	// as "creation_date ASC"
	params.Set("order_by", "creation_date ASC")

	var incidents []Incident
	err := c.collectPages(ctx, "/incidents", params, func(body io.Reader) error {
		var page []Incident
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return fmt.Errorf("failed to decode incidents page: %w", err)
		}
		incidents = append(incidents, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

// GetIncident fetches a single incident by id
func (c *Client) GetIncident(ctx context.Context, id string) (*Incident, error) {
	resp, err := c.get(ctx, "/incidents/id/"+url.PathEscape(id), nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var incident Incident
	if err := json.NewDecoder(resp.Body).Decode(&incident); err != nil {
		return nil, fmt.Errorf("failed to decode incident: %w", err)
	}
	return &incident, nil
}

// ListProgressTrail returns the activity thread of an incident in the
// order the server yields it. Topdesk hands entries back newest-first;
// callers that need chronological order must sort explicitly.
func (c *Client) ListProgressTrail(ctx context.Context, id string) ([]ProgressEntry, error) {
	var entries []ProgressEntry
	err := c.collectPages(ctx, "/incidents/id/"+url.PathEscape(id)+"/progresstrail", nil, func(body io.Reader) error {
		var page []ProgressEntry
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return fmt.Errorf("failed to decode progress trail page: %w", err)
		}
		entries = append(entries, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
