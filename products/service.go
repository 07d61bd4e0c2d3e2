package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// UserCourse records course ownership, written by the external billing
// system. This module only reads it.
type UserCourse struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	UserID    uint64    `gorm:"not null;index:idx_user_course,unique" json:"user_id"`
	CourseID  uint64    `gorm:"not null;index:idx_user_course,unique" json:"course_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserCourse) TableName() string {
	return "user_courses"
}

// CTA is the acquisition call-to-action for one unowned course.
type CTA struct {
	CourseID    uint64 `json:"course_id"`
	CourseName  string `json:"course_name"`
	CheckoutURL string `json:"checkout_url"`
	Message     string `json:"message"`
}

type Service struct {
	db      *gorm.DB
	catalog map[uint64]Product
}

func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("products: database connection is required")
	}
	catalog := make(map[uint64]Product)
	for _, product := range loadCatalog() {
		catalog[product.CourseID] = product
	}
	return &Service{db: db, catalog: catalog}, nil
}

func (s *Service) AutoMigrate() error {
	return s.db.AutoMigrate(&UserCourse{})
}

// Lookup returns the catalog entry for a course id.
func (s *Service) Lookup(courseID uint64) (Product, bool) {
	product, ok := s.catalog[courseID]
	return product, ok
}

// OwnedCourses returns the set of course ids the user owns. A zero user id
// (anonymous caller) owns nothing.
func (s *Service) OwnedCourses(ctx context.Context, userID uint64) (map[uint64]struct{}, error) {
	owned := make(map[uint64]struct{})
	if userID == 0 {
		return owned, nil
	}
	var rows []UserCourse
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		owned[row.CourseID] = struct{}{}
	}
	return owned, nil
}

// ResolveCTAs returns one distinct call-to-action per unowned course among
// courseIDs. Courses missing from the catalog are skipped: a CTA is never
// fabricated.
func (s *Service) ResolveCTAs(ctx context.Context, userID uint64, courseIDs []uint64) ([]CTA, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	owned, err := s.OwnedCourses(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint64]struct{}, len(courseIDs))
	var ctas []CTA
	for _, courseID := range courseIDs {
		if courseID == 0 {
			continue
		}
		if _, dup := seen[courseID]; dup {
			continue
		}
		seen[courseID] = struct{}{}
		if _, has := owned[courseID]; has {
			continue
		}
		product, ok := s.catalog[courseID]
		if !ok {
			continue
		}
		ctas = append(ctas, CTA{
			CourseID:    courseID,
			CourseName:  product.Name,
			CheckoutURL: product.CheckoutURL,
			Message:     fmt.Sprintf("Este exercício faz parte do curso %q. Garanta seu acesso em: %s", product.Name, product.CheckoutURL),
		})
	}
	return ctas, nil
}
