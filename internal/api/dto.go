package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/itemservice"
	"github.com/ShirokumaLibrary/mcp-knowledge-base-sub009/internal/models"
)

// CreateItemRequest is the request body for creating an item. The type
// comes from the URL. Shape checks live here; domain invariants (type
// existence, self-reference, uniqueness) are enforced by the engine.
type CreateItemRequest struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content,omitempty"`
	Priority    string   `json:"priority,omitempty"`
	Status      string   `json:"status,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Related     []string `json:"related,omitempty"`
	StartDate   string   `json:"start_date,omitempty"`
	EndDate     string   `json:"end_date,omitempty"`
}

// Validate checks the request shape.
func (r CreateItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, itemservice.MaxTitleLen)),
		validation.Field(&r.Priority, validation.In(models.PriorityHigh, models.PriorityMedium, models.PriorityLow)),
		validation.Field(&r.StartDate, validation.Date("2006-01-02")),
		validation.Field(&r.EndDate, validation.Date("2006-01-02")),
	)
}

func (r CreateItemRequest) input(typeName string) itemservice.CreateInput {
	return itemservice.CreateInput{
		Type:        typeName,
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Content:     r.Content,
		Priority:    r.Priority,
		Status:      r.Status,
		Tags:        r.Tags,
		Related:     r.Related,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
	}
}

// UpdateItemRequest is a partial update: absent fields stay unchanged.
type UpdateItemRequest = itemservice.UpdateInput

// CreateTypeRequest is the request body for registering a custom type.
type CreateTypeRequest struct {
	Name        string `json:"name" validate:"required"`
	Base        string `json:"base_type" validate:"required"`
	Description string `json:"description,omitempty"`
}

// Validate checks the request shape.
func (r CreateTypeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Base, validation.Required,
			validation.In(string(models.BaseTask), string(models.BaseDocument))),
	)
}

// ItemListResponse wraps item listings.
type ItemListResponse struct {
	Items []models.ItemSummary `json:"items" validate:"required"`
	Total int                  `json:"total" example:"42" validate:"required"`
}

// TypeListResponse wraps type listings.
type TypeListResponse struct {
	Types []models.Type `json:"types" validate:"required"`
}

// StatusListResponse wraps the status vocabulary.
type StatusListResponse struct {
	Statuses []models.Status `json:"statuses" validate:"required"`
}

// TagListResponse wraps the tag vocabulary.
type TagListResponse struct {
	Tags []string `json:"tags" validate:"required"`
}
