package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/ppiankov/kafkaconsole/internal/errs"
	"github.com/ppiankov/kafkaconsole/internal/kafka"
)

// ResourceType names the kind of resource an ACL protects.
type ResourceType string

const (
	ResourceAny             ResourceType = "any"
	ResourceTopic           ResourceType = "topic"
	ResourceGroup           ResourceType = "group"
	ResourceCluster         ResourceType = "cluster"
	ResourceTransactionalID ResourceType = "transactional-id"
	ResourceDelegationToken ResourceType = "delegation-token"
)

// Operation names an ACL operation.
type Operation string

const (
	OperationAny             Operation = "any"
	OperationAll             Operation = "all"
	OperationRead            Operation = "read"
	OperationWrite           Operation = "write"
	OperationCreate          Operation = "create"
	OperationDelete          Operation = "delete"
	OperationAlter           Operation = "alter"
	OperationDescribe        Operation = "describe"
	OperationClusterAction   Operation = "cluster-action"
	OperationDescribeConfigs Operation = "describe-configs"
	OperationAlterConfigs    Operation = "alter-configs"
	OperationIdempotentWrite Operation = "idempotent-write"
)

// Permission is allow or deny.
type Permission string

const (
	PermissionAny   Permission = "any"
	PermissionAllow Permission = "allow"
	PermissionDeny  Permission = "deny"
)

// PatternType is how a resource name matches.
type PatternType string

const (
	PatternAny      PatternType = "any"
	PatternMatch    PatternType = "match"
	PatternLiteral  PatternType = "literal"
	PatternPrefixed PatternType = "prefixed"
)

var resourceTypes = table[ResourceType, kmsg.ACLResourceType]{
	ResourceAny:             kmsg.ACLResourceTypeAny,
	ResourceTopic:           kmsg.ACLResourceTypeTopic,
	ResourceGroup:           kmsg.ACLResourceTypeGroup,
	ResourceCluster:         kmsg.ACLResourceTypeCluster,
	ResourceTransactionalID: kmsg.ACLResourceTypeTransactionalId,
	ResourceDelegationToken: kmsg.ACLResourceTypeDelegationToken,
}

var operations = table[Operation, kmsg.ACLOperation]{
	OperationAny:             kmsg.ACLOperationAny,
	OperationAll:             kmsg.ACLOperationAll,
	OperationRead:            kmsg.ACLOperationRead,
	OperationWrite:           kmsg.ACLOperationWrite,
	OperationCreate:          kmsg.ACLOperationCreate,
	OperationDelete:          kmsg.ACLOperationDelete,
	OperationAlter:           kmsg.ACLOperationAlter,
	OperationDescribe:        kmsg.ACLOperationDescribe,
	OperationClusterAction:   kmsg.ACLOperationClusterAction,
	OperationDescribeConfigs: kmsg.ACLOperationDescribeConfigs,
	OperationAlterConfigs:    kmsg.ACLOperationAlterConfigs,
	OperationIdempotentWrite: kmsg.ACLOperationIdempotentWrite,
}

var permissions = table[Permission, kmsg.ACLPermissionType]{
	PermissionAny:   kmsg.ACLPermissionTypeAny,
	PermissionAllow: kmsg.ACLPermissionTypeAllow,
	PermissionDeny:  kmsg.ACLPermissionTypeDeny,
}

var patternTypes = table[PatternType, kmsg.ACLResourcePatternType]{
	PatternAny:      kmsg.ACLResourcePatternTypeAny,
	PatternMatch:    kmsg.ACLResourcePatternTypeMatch,
	PatternLiteral:  kmsg.ACLResourcePatternTypeLiteral,
	PatternPrefixed: kmsg.ACLResourcePatternTypePrefixed,
}

// table is a bidirectional mapping between a vocabulary and wire enums.
type table[K ~string, V comparable] map[K]V

func (t table[K, V]) wire(k K) (V, bool) {
	v, ok := t[K(strings.ToLower(strings.TrimSpace(string(k))))]
	return v, ok
}

func (t table[K, V]) name(v V) (K, bool) {
	for k, w := range t {
		if w == v {
			return k, true
		}
	}
	var zero K
	return zero, false
}

// ACL is one binding in the stable vocabulary.
type ACL struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceName string       `json:"resource_name"`
	PatternType  PatternType  `json:"pattern_type"`
	Principal    string       `json:"principal"`
	Host         string       `json:"host"`
	Operation    Operation    `json:"operation"`
	Permission   Permission   `json:"permission"`
}

// ACLFilter selects bindings. When listing, empty, any and unrecognised
// values match everything. Deleting is stricter, see DeleteFilterToWire.
type ACLFilter struct {
	ResourceType ResourceType
	ResourceName string
	PatternType  PatternType
	Principal    string
	Host         string
	Operation    Operation
	Permission   Permission

	// All lets a delete run with no narrowing field.
	All bool
}

// ToWire converts a binding for creation. Wildcard and unknown values are
// rejected with ErrWildcardOnCreate. An empty host means every host.
func ToWire(acl ACL) (kafka.ACLEntry, error) {
	wildcard := func(field string, value any) error {
		return fmt.Errorf("%w: %s %q", errs.ErrWildcardOnCreate, field, value)
	}

	rt, ok := resourceTypes.wire(acl.ResourceType)
	if !ok || rt == kmsg.ACLResourceTypeAny {
		return kafka.ACLEntry{}, wildcard("resource type", acl.ResourceType)
	}
	op, ok := operations.wire(acl.Operation)
	if !ok || op == kmsg.ACLOperationAny {
		return kafka.ACLEntry{}, wildcard("operation", acl.Operation)
	}
	perm, ok := permissions.wire(acl.Permission)
	if !ok || perm == kmsg.ACLPermissionTypeAny {
		return kafka.ACLEntry{}, wildcard("permission", acl.Permission)
	}
	pattern := kmsg.ACLResourcePatternTypeLiteral
	if acl.PatternType != "" {
		pattern, ok = patternTypes.wire(acl.PatternType)
		if !ok || pattern == kmsg.ACLResourcePatternTypeAny || pattern == kmsg.ACLResourcePatternTypeMatch {
			return kafka.ACLEntry{}, wildcard("pattern type", acl.PatternType)
		}
	}
	if acl.ResourceName == "" {
		return kafka.ACLEntry{}, &errs.ConfigError{Field: "resource_name", Message: "is required"}
	}
	if acl.Principal == "" {
		return kafka.ACLEntry{}, &errs.ConfigError{Field: "principal", Message: "is required"}
	}

	host := acl.Host
	if host == "" {
		host = "*"
	}
	return kafka.ACLEntry{
		ResourceType: rt,
		ResourceName: acl.ResourceName,
		PatternType:  pattern,
		Principal:    acl.Principal,
		Host:         host,
		Operation:    op,
		Permission:   perm,
	}, nil
}

// FromWire converts a wire binding. Enum values outside the vocabulary keep
// their protocol name in lower case.
func FromWire(e kafka.ACLEntry) ACL {
	acl := ACL{
		ResourceName: e.ResourceName,
		Principal:    e.Principal,
		Host:         e.Host,
	}
	var ok bool
	if acl.ResourceType, ok = resourceTypes.name(e.ResourceType); !ok {
		acl.ResourceType = ResourceType(strings.ToLower(e.ResourceType.String()))
	}
	if acl.Operation, ok = operations.name(e.Operation); !ok {
		acl.Operation = Operation(strings.ToLower(e.Operation.String()))
	}
	if acl.Permission, ok = permissions.name(e.Permission); !ok {
		acl.Permission = Permission(strings.ToLower(e.Permission.String()))
	}
	if acl.PatternType, ok = patternTypes.name(e.PatternType); !ok {
		acl.PatternType = PatternType(strings.ToLower(e.PatternType.String()))
	}
	return acl
}

// FilterToWire converts a filter. It never fails: anything unmapped
// becomes a wildcard.
func FilterToWire(f ACLFilter) kafka.ACLFilter {
	out := kafka.ACLFilter{
		ResourceType: kmsg.ACLResourceTypeAny,
		PatternType:  kmsg.ACLResourcePatternTypeAny,
		Operation:    kmsg.ACLOperationAny,
		Permission:   kmsg.ACLPermissionTypeAny,
	}
	if v, ok := resourceTypes.wire(f.ResourceType); ok {
		out.ResourceType = v
	}
	if v, ok := patternTypes.wire(f.PatternType); ok {
		out.PatternType = v
	}
	if v, ok := operations.wire(f.Operation); ok {
		out.Operation = v
	}
	if v, ok := permissions.wire(f.Permission); ok {
		out.Permission = v
	}
	if f.ResourceName != "" {
		out.ResourceName = &f.ResourceName
	}
	if f.Principal != "" {
		out.Principal = &f.Principal
	}
	if f.Host != "" {
		out.Host = &f.Host
	}
	return out
}

// DeleteFilterToWire converts a filter for deletion. Only empty or any
// values are wildcards; anything else unmapped is rejected. At least one
// field must narrow the filter unless f.All is set.
func DeleteFilterToWire(f ACLFilter) (kafka.ACLFilter, error) {
	unknown := func(field string, value any) error {
		return &errs.ConfigError{Field: field, Message: fmt.Sprintf("unknown value %q", value)}
	}
	isAny := func(v string) bool {
		v = strings.ToLower(strings.TrimSpace(v))
		return v == "" || v == "any"
	}

	if _, ok := resourceTypes.wire(f.ResourceType); !ok && !isAny(string(f.ResourceType)) {
		return kafka.ACLFilter{}, unknown("resource_type", f.ResourceType)
	}
	if _, ok := patternTypes.wire(f.PatternType); !ok && !isAny(string(f.PatternType)) {
		return kafka.ACLFilter{}, unknown("pattern_type", f.PatternType)
	}
	if _, ok := operations.wire(f.Operation); !ok && !isAny(string(f.Operation)) {
		return kafka.ACLFilter{}, unknown("operation", f.Operation)
	}
	if _, ok := permissions.wire(f.Permission); !ok && !isAny(string(f.Permission)) {
		return kafka.ACLFilter{}, unknown("permission", f.Permission)
	}

	out := FilterToWire(f)
	narrowed := out.ResourceType != kmsg.ACLResourceTypeAny ||
		(out.PatternType != kmsg.ACLResourcePatternTypeAny && out.PatternType != kmsg.ACLResourcePatternTypeMatch) ||
		out.Operation != kmsg.ACLOperationAny ||
		out.Permission != kmsg.ACLPermissionTypeAny ||
		out.ResourceName != nil || out.Principal != nil || out.Host != nil
	if !narrowed && !f.All {
		return kafka.ACLFilter{}, &errs.ConfigError{Field: "filter", Message: "matches every ACL; narrow it or delete all explicitly"}
	}
	return out, nil
}

// ListAcls returns the bindings matching filter.
func (m *Manager) ListAcls(ctx context.Context, name string, filter ACLFilter) ([]ACL, error) {
	admin, err := m.admin(ctx, name)
	if err != nil {
		return nil, err
	}
	entries, err := admin.DescribeACLs(ctx, FilterToWire(filter))
	if err != nil {
		return nil, err
	}
	acls := make([]ACL, 0, len(entries))
	for _, e := range entries {
		acls = append(acls, FromWire(e))
	}
	return acls, nil
}

// CreateAcl creates one binding.
func (m *Manager) CreateAcl(ctx context.Context, name string, acl ACL) error {
	entry, err := ToWire(acl)
	if err != nil {
		return err
	}
	admin, err := m.admin(ctx, name)
	if err != nil {
		return err
	}
	return admin.CreateACLs(ctx, []kafka.ACLEntry{entry})
}

// DeleteAcl deletes every binding matching filter and returns how many went.
func (m *Manager) DeleteAcl(ctx context.Context, name string, filter ACLFilter) (int, error) {
	wire, err := DeleteFilterToWire(filter)
	if err != nil {
		var ce *errs.ConfigError
		if errors.As(err, &ce) {
			ce.Cluster = name
		}
		return 0, err
	}
	admin, err := m.admin(ctx, name)
	if err != nil {
		return 0, err
	}
	return admin.DeleteACLs(ctx, wire)
}
