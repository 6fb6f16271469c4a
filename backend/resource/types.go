package resource

type Account struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Alias string `json:"alias,omitempty" yaml:"alias,omitempty"`
	Email string `json:"email,omitempty" yaml:"email,omitempty"`
}

type Region struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

type Tag struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

type ResourceQuery struct {
	Accounts      []string `json:"accounts,omitempty"`
	Regions       []string `json:"regions,omitempty"`
	ResourceTypes []string `json:"resourceTypes"`
}

type Resource struct {
	ResourceType       string         `json:"resourceType" yaml:"resourceType"`
	AccountID          string         `json:"accountId" yaml:"accountId"`
	Region             string         `json:"region" yaml:"region"`
	ResourceID         string         `json:"resourceId" yaml:"resourceId"`
	DisplayName        string         `json:"displayName" yaml:"displayName"`
	Status             string         `json:"status,omitempty" yaml:"status,omitempty"`
	Properties         map[string]any `json:"properties" yaml:"properties"`
	RawProperties      map[string]any `json:"rawProperties" yaml:"rawProperties"`
	DetailedProperties map[string]any `json:"detailedProperties,omitempty" yaml:"detailedProperties,omitempty"`
	Tags               []Tag          `json:"tags" yaml:"tags"`
}

type LogQuery struct {
	LogGroupName   string   `json:"logGroupName"`
	AccountID      string   `json:"accountId"`
	Region         string   `json:"region"`
	StartTime      *int64   `json:"startTime,omitempty"`
	EndTime        *int64   `json:"endTime,omitempty"`
	FilterPattern  string   `json:"filterPattern,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	LogStreamNames []string `json:"logStreamNames,omitempty"`
	StartFromHead  bool     `json:"startFromHead,omitempty"`
}

type LogEvent struct {
	Timestamp     int64  `json:"timestamp" yaml:"timestamp"`
	Message       string `json:"message" yaml:"message"`
	IngestionTime int64  `json:"ingestionTime" yaml:"ingestionTime"`
	LogStreamName string `json:"logStreamName" yaml:"logStreamName"`
}

type LogStatistics struct {
	BytesScanned   float64 `json:"bytesScanned"`
	RecordsMatched float64 `json:"recordsMatched"`
	RecordsScanned float64 `json:"recordsScanned"`
}

type LogQueryResult struct {
	Events      []LogEvent    `json:"events"`
	NextToken   *string       `json:"nextToken"`
	TotalEvents int           `json:"totalEvents"`
	Statistics  LogStatistics `json:"statistics"`
}

type LookupAttribute struct {
	AttributeKey   string `json:"attributeKey"`
	AttributeValue string `json:"attributeValue"`
}

type AuditQuery struct {
	AccountID        string            `json:"accountId"`
	Region           string            `json:"region"`
	StartTime        *int64            `json:"startTime,omitempty"`
	EndTime          *int64            `json:"endTime,omitempty"`
	LookupAttributes []LookupAttribute `json:"lookupAttributes,omitempty"`
	MaxResults       int               `json:"maxResults,omitempty"`
	NextToken        string            `json:"nextToken,omitempty"`
}

type AuditEventResource struct {
	ResourceType string `json:"resourceType,omitempty" yaml:"resourceType,omitempty"`
	ResourceName string `json:"resourceName,omitempty" yaml:"resourceName,omitempty"`
}

type AuditEvent struct {
	EventID         string               `json:"eventId" yaml:"eventId"`
	EventName       string               `json:"eventName" yaml:"eventName"`
	EventTime       int64                `json:"eventTime" yaml:"eventTime"`
	EventSource     string               `json:"eventSource" yaml:"eventSource"`
	Username        string               `json:"username" yaml:"username"`
	Resources       []AuditEventResource `json:"resources" yaml:"resources"`
	CloudTrailEvent string               `json:"cloudTrailEvent,omitempty" yaml:"cloudTrailEvent,omitempty"`
	AccessKeyID     string               `json:"accessKeyId,omitempty" yaml:"accessKeyId,omitempty"`
	ReadOnly        string               `json:"readOnly,omitempty" yaml:"readOnly,omitempty"`
	ErrorCode       string               `json:"errorCode,omitempty" yaml:"errorCode,omitempty"`
	ErrorMessage    string               `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

type AuditQueryResult struct {
	Events      []AuditEvent `json:"events"`
	NextToken   *string      `json:"nextToken"`
	TotalEvents int          `json:"totalEvents"`
}
