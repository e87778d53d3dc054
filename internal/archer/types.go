package archer

import (
	"time"

	"github.com/grcgate/grcgate/internal/record"
)

// Session is the cached Archer session token
type Session struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the session can still be used at now
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}

// Application is an Archer application (module)
type Application struct {
	ID     int    `json:"Id"`
	Name   string `json:"Name"`
	Alias  string `json:"Alias"`
	Status int    `json:"Status,omitempty"`
}

// Level is one data level of an application
type Level struct {
	ID       int    `json:"Id"`
	Name     string `json:"Name"`
	Alias    string `json:"Alias"`
	ModuleID int    `json:"ModuleId"`
}

// Field is the schema metadata of one Archer field
type Field struct {
	ID      int    `json:"Id"`
	Name    string `json:"Name"`
	Alias   string `json:"Alias"`
	LevelID int    `json:"LevelId"`
	Type    int    `json:"Type"`
}

// FieldMapping maps field aliases to display names for one application
type FieldMapping map[string]string

// DisplayName returns the display name for alias, or alias itself when unknown
func (m FieldMapping) DisplayName(alias string) string {
	if name, ok := m[alias]; ok && name != "" {
		return name
	}
	return alias
}

// SearchResult is one page of records with display-name keys
type SearchResult struct {
	ApplicationName string         `json:"applicationName"`
	TotalCount      int            `json:"totalCount"`
	PageSize        int            `json:"pageSize"`
	PageNumber      int            `json:"pageNumber"`
	Records         []record.Value `json:"records"`
	// Unsupported is set when Archer reported the content surface as missing
	// for this application and an empty page was returned instead
	Unsupported bool `json:"unsupported,omitempty"`
}

// ApplicationStats summarizes an application
type ApplicationStats struct {
	ApplicationID   int    `json:"applicationId"`
	ApplicationName string `json:"applicationName"`
	TotalRecords    int    `json:"totalRecords"`
	FieldCount      int    `json:"fieldCount"`
	Unsupported     bool   `json:"unsupported,omitempty"`
}

// envelope is the wrapper Archer puts around platform API responses
type envelope[T any] struct {
	RequestedObject    T                   `json:"RequestedObject"`
	IsSuccessful       bool                `json:"IsSuccessful"`
	ValidationMessages []validationMessage `json:"ValidationMessages"`
}

type validationMessage struct {
	Reason      string `json:"Reason"`
	Description string `json:"Description"`
}

type loginRequest struct {
	InstanceName string `json:"InstanceName"`
	Username     string `json:"Username"`
	UserDomain   string `json:"UserDomain"`
	Password     string `json:"Password"`
}

type loginResult struct {
	SessionToken string `json:"SessionToken"`
	UserID       int    `json:"UserId"`
}

// contentPage is the OData-style page returned by the content endpoint
type contentPage struct {
	Count *int           `json:"@odata.count"`
	Value []record.Value `json:"value"`
}
