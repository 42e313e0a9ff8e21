package types

import (
	"errors"
	"time"
)

// Annotation is a user note attached to a data product by uid. The store
// assigns AnnotationID sequentially on first insert; a POST carrying an
// existing AnnotationID updates that annotation instead.
type Annotation struct {
	AnnotationID      int64     `json:"annotation_id,omitempty"`
	DataProductUID    string    `json:"data_product_uid"`
	AnnotationText    string    `json:"annotation_text"`
	UserPrincipalName string    `json:"user_principal_name"`
	TimestampCreated  time.Time `json:"timestamp_created,omitempty"`
	TimestampModified time.Time `json:"timestamp_modified,omitempty"`
}

// Validate checks the annotation carries the required fields.
func (a *Annotation) Validate() error {
	if a.DataProductUID == "" {
		return errors.New("data_product_uid is required")
	}
	if a.AnnotationText == "" {
		return errors.New("annotation_text is required")
	}
	if a.UserPrincipalName == "" {
		return errors.New("user_principal_name is required")
	}
	return nil
}
