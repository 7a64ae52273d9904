package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// ACLEntry is a single ACL binding in wire terms.
type ACLEntry struct {
	ResourceType kmsg.ACLResourceType
	ResourceName string
	PatternType  kmsg.ACLResourcePatternType
	Principal    string
	Host         string
	Operation    kmsg.ACLOperation
	Permission   kmsg.ACLPermissionType
}

// ACLFilter matches ACL bindings. Nil strings match anything.
type ACLFilter struct {
	ResourceType kmsg.ACLResourceType
	ResourceName *string
	PatternType  kmsg.ACLResourcePatternType
	Principal    *string
	Host         *string
	Operation    kmsg.ACLOperation
	Permission   kmsg.ACLPermissionType
}

func errMessage(code int16, msg *string) error {
	err := kerr.ErrorForCode(code)
	if err == nil {
		return nil
	}
	if msg != nil && *msg != "" {
		return fmt.Errorf("%w: %s", err, *msg)
	}
	return err
}

func (a *kadmAdmin) DescribeACLs(ctx context.Context, filter ACLFilter) ([]ACLEntry, error) {
	req := kmsg.NewPtrDescribeACLsRequest()
	req.ResourceType = filter.ResourceType
	req.ResourceName = filter.ResourceName
	req.ResourcePatternType = filter.PatternType
	req.Principal = filter.Principal
	req.Host = filter.Host
	req.Operation = filter.Operation
	req.PermissionType = filter.Permission

	var resp *kmsg.DescribeACLsResponse
	if err := withRetry(ctx, "describe ACLs", func() error {
		var reqErr error
		resp, reqErr = req.RequestWith(ctx, a.client)
		return reqErr
	}); err != nil {
		return nil, fmt.Errorf("describe ACLs: %w", err)
	}
	if err := errMessage(resp.ErrorCode, resp.ErrorMessage); err != nil {
		return nil, fmt.Errorf("describe ACLs: %w", err)
	}

	var entries []ACLEntry
	for _, resource := range resp.Resources {
		for _, acl := range resource.ACLs {
			entries = append(entries, ACLEntry{
				ResourceType: resource.ResourceType,
				ResourceName: resource.ResourceName,
				PatternType:  resource.ResourcePatternType,
				Principal:    acl.Principal,
				Host:         acl.Host,
				Operation:    acl.Operation,
				Permission:   acl.PermissionType,
			})
		}
	}
	return entries, nil
}

func (a *kadmAdmin) CreateACLs(ctx context.Context, entries []ACLEntry) error {
	if len(entries) == 0 {
		return nil
	}

	req := kmsg.NewPtrCreateACLsRequest()
	for _, e := range entries {
		c := kmsg.NewCreateACLsRequestCreation()
		c.ResourceType = e.ResourceType
		c.ResourceName = e.ResourceName
		c.ResourcePatternType = e.PatternType
		c.Operation = e.Operation
		c.Principal = e.Principal
		c.Host = e.Host
		c.PermissionType = e.Permission
		req.Creations = append(req.Creations, c)
	}

	resp, err := req.RequestWith(ctx, a.client)
	if err != nil {
		return fmt.Errorf("create ACLs: %w", err)
	}
	if len(resp.Results) != len(req.Creations) {
		return fmt.Errorf("create ACLs: received %d results to %d creations", len(resp.Results), len(req.Creations))
	}

	var errList []error
	for i, r := range resp.Results {
		if err := errMessage(r.ErrorCode, r.ErrorMessage); err != nil {
			c := req.Creations[i]
			errList = append(errList, fmt.Errorf("create ACL %s on %s: %w", c.Principal, c.ResourceName, err))
		}
	}
	return errors.Join(errList...)
}

func (a *kadmAdmin) DeleteACLs(ctx context.Context, filter ACLFilter) (int, error) {
	req := kmsg.NewPtrDeleteACLsRequest()
	f := kmsg.NewDeleteACLsRequestFilter()
	f.ResourceType = filter.ResourceType
	f.ResourceName = filter.ResourceName
	f.ResourcePatternType = filter.PatternType
	f.Principal = filter.Principal
	f.Host = filter.Host
	f.Operation = filter.Operation
	f.PermissionType = filter.Permission
	req.Filters = append(req.Filters, f)

	resp, err := req.RequestWith(ctx, a.client)
	if err != nil {
		return 0, fmt.Errorf("delete ACLs: %w", err)
	}

	deleted := 0
	var errList []error
	for _, r := range resp.Results {
		if err := errMessage(r.ErrorCode, r.ErrorMessage); err != nil {
			errList = append(errList, err)
			continue
		}
		for _, m := range r.MatchingACLs {
			if err := errMessage(m.ErrorCode, m.ErrorMessage); err != nil {
				errList = append(errList, err)
				continue
			}
			deleted++
		}
	}
	if err := errors.Join(errList...); err != nil {
		return deleted, fmt.Errorf("delete ACLs: %w", err)
	}
	return deleted, nil
}
