package topdesk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Operator and permission metadata. Not used by the reconciliation loop,
// but handy for verifying that the configured account can see incidents.

// CurrentOperator returns the profile of the authenticated operator
func (c *Client) CurrentOperator(ctx context.Context) (*Operator, error) {
	resp, err := c.get(ctx, "/operators/current", nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var op Operator
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to decode operator: %w", err)
	}
	return &op, nil
}

// OperatorGroups returns the groups an operator belongs to. A 204 means
// the operator has none.
func (c *Client) OperatorGroups(ctx context.Context, id string) ([]NamedRef, error) {
	resp, err := c.get(ctx, "/operators/id/"+url.PathEscape(id)+"/operatorgroups", nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var groups []NamedRef
		if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
			return nil, fmt.Errorf("failed to decode operator groups: %w", err)
		}
		return groups, nil
	case http.StatusNoContent:
		return []NamedRef{}, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
}

// PermissionGroups returns all permission groups visible to the operator
func (c *Client) PermissionGroups(ctx context.Context) ([]NamedRef, error) {
	resp, err := c.get(ctx, "/permissiongroups", nil, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var groups []NamedRef
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("failed to decode permission groups: %w", err)
	}
	return groups, nil
}
