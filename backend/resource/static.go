package resource

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogLimit   = 100
	maxLogLimit       = 10000
	maxAuditResults   = 50
	defaultAuditLimit = 50
)

type LogGroupFixture struct {
	LogGroupName string     `yaml:"logGroupName"`
	AccountID    string     `yaml:"accountId"`
	Region       string     `yaml:"region"`
	Events       []LogEvent `yaml:"events"`
}

type AuditEventFixture struct {
	AccountID  string `yaml:"accountId"`
	Region     string `yaml:"region"`
	AuditEvent `yaml:",inline"`
}

// Fixtures is the document loaded by StaticBackend. It stands in for the
// live resource explorer when running offline or in tests.
type Fixtures struct {
	Accounts    []Account           `yaml:"accounts"`
	Regions     []Region            `yaml:"regions"`
	Resources   []Resource          `yaml:"resources"`
	LogGroups   []LogGroupFixture   `yaml:"logGroups"`
	AuditEvents []AuditEventFixture `yaml:"auditEvents"`
}

func LoadFixtures(fs afero.Fs, path string) (*Fixtures, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource fixtures %s: %w", path, err)
	}

	var fixtures Fixtures
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("failed to parse resource fixtures %s: %w", path, err)
	}

	return &fixtures, nil
}

type StaticBackend struct {
	fixtures Fixtures
}

var _ Backend = (*StaticBackend)(nil)

func NewStaticBackend(fixtures *Fixtures) *StaticBackend {
	backend := &StaticBackend{}
	if fixtures != nil {
		backend.fixtures = *fixtures
	}
	if len(backend.fixtures.Regions) == 0 {
		backend.fixtures.Regions = DefaultRegions()
	}
	return backend
}

func (b *StaticBackend) ListAccounts(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(b.fixtures.Accounts), nil
}

func (b *StaticBackend) ListRegions(ctx context.Context) ([]Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(b.fixtures.Regions), nil
}

// QueryResources filters the fixture resources. Without accounts the first
// configured account is used, without regions the default region.
func (b *StaticBackend) QueryResources(ctx context.Context, query ResourceQuery) ([]Resource, error) {
	const op = "queryResources"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query.ResourceTypes) == 0 {
		return nil, Errorf(ErrorKindInvalidArgument, op, "resourceTypes array cannot be empty")
	}

	accounts := query.Accounts
	if len(accounts) == 0 {
		if len(b.fixtures.Accounts) == 0 {
			return nil, Errorf(ErrorKindNotFound, op, "no AWS accounts configured")
		}
		accounts = []string{b.fixtures.Accounts[0].ID}
	}

	regions := query.Regions
	if len(regions) == 0 {
		regions = []string{DefaultRegion}
	}

	resources := []Resource{}
	for _, resource := range b.fixtures.Resources {
		if slices.Contains(accounts, resource.AccountID) &&
			slices.Contains(regions, resource.Region) &&
			slices.Contains(query.ResourceTypes, resource.ResourceType) {
			resources = append(resources, resource)
		}
	}

	return resources, nil
}

func (b *StaticBackend) QueryLogEvents(ctx context.Context, query LogQuery) (*LogQueryResult, error) {
	const op = "queryCloudWatchLogEvents"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query.LogGroupName == "" || query.AccountID == "" || query.Region == "" {
		return nil, Errorf(ErrorKindInvalidArgument, op, "logGroupName, accountId and region are required")
	}

	var group *LogGroupFixture
	for i := range b.fixtures.LogGroups {
		candidate := &b.fixtures.LogGroups[i]
		if candidate.LogGroupName == query.LogGroupName &&
			candidate.AccountID == query.AccountID &&
			candidate.Region == query.Region {
			group = candidate
			break
		}
	}
	if group == nil {
		return nil, Errorf(ErrorKindNotFound, op, "log group %s not found in %s/%s", query.LogGroupName, query.AccountID, query.Region)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)

	var stats LogStatistics
	matched := []LogEvent{}
	for _, event := range group.Events {
		stats.RecordsScanned++
		stats.BytesScanned += float64(len(event.Message))

		if query.StartTime != nil && event.Timestamp < *query.StartTime {
			continue
		}
		if query.EndTime != nil && event.Timestamp > *query.EndTime {
			continue
		}
		if len(query.LogStreamNames) > 0 && !slices.Contains(query.LogStreamNames, event.LogStreamName) {
			continue
		}
		if query.FilterPattern != "" && !strings.Contains(event.Message, strings.Trim(query.FilterPattern, `"`)) {
			continue
		}
		matched = append(matched, event)
	}
	stats.RecordsMatched = float64(len(matched))

	sort.SliceStable(matched, func(i, j int) bool {
		if query.StartFromHead {
			return matched[i].Timestamp < matched[j].Timestamp
		}
		return matched[i].Timestamp > matched[j].Timestamp
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}

	return &LogQueryResult{
		Events:      matched,
		TotalEvents: len(matched),
		Statistics:  stats,
	}, nil
}

func (b *StaticBackend) LookupAuditEvents(ctx context.Context, query AuditQuery) (*AuditQueryResult, error) {
	const op = "getCloudTrailEvents"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if query.AccountID == "" || query.Region == "" {
		return nil, Errorf(ErrorKindInvalidArgument, op, "accountId and region are required")
	}

	offset := 0
	if query.NextToken != "" {
		parsed, err := strconv.Atoi(query.NextToken)
		if err != nil || parsed < 0 {
			return nil, Errorf(ErrorKindInvalidArgument, op, "invalid nextToken %q", query.NextToken)
		}
		offset = parsed
	}

	limit := query.MaxResults
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditResults)

	matched := []AuditEvent{}
	for _, fixture := range b.fixtures.AuditEvents {
		if fixture.AccountID != query.AccountID || fixture.Region != query.Region {
			continue
		}
		event := fixture.AuditEvent
		if query.StartTime != nil && event.EventTime < *query.StartTime {
			continue
		}
		if query.EndTime != nil && event.EventTime > *query.EndTime {
			continue
		}
		if !matchesAttributes(event, query.LookupAttributes) {
			continue
		}
		matched = append(matched, event)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].EventTime > matched[j].EventTime
	})

	if offset > len(matched) {
		offset = len(matched)
	}
	page := matched[offset:]

	var nextToken *string
	if len(page) > limit {
		page = page[:limit]
		token := strconv.Itoa(offset + limit)
		nextToken = &token
	}

	return &AuditQueryResult{
		Events:      page,
		NextToken:   nextToken,
		TotalEvents: len(page),
	}, nil
}

func matchesAttributes(event AuditEvent, attributes []LookupAttribute) bool {
	for _, attribute := range attributes {
		switch attribute.AttributeKey {
		case "EventId":
			if event.EventID != attribute.AttributeValue {
				return false
			}
		case "EventName":
			if event.EventName != attribute.AttributeValue {
				return false
			}
		case "EventSource":
			if event.EventSource != attribute.AttributeValue {
				return false
			}
		case "Username":
			if event.Username != attribute.AttributeValue {
				return false
			}
		case "ReadOnly":
			if event.ReadOnly != attribute.AttributeValue {
				return false
			}
		case "AccessKeyId":
			if event.AccessKeyID != attribute.AttributeValue {
				return false
			}
		case "ResourceType", "ResourceName":
			found := slices.ContainsFunc(event.Resources, func(resource AuditEventResource) bool {
				if attribute.AttributeKey == "ResourceType" {
					return resource.ResourceType == attribute.AttributeValue
				}
				return resource.ResourceName == attribute.AttributeValue
			})
			if !found {
				return false
			}
		}
	}
	return true
}
