package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListingType — тип объявления.
type ListingType string

const (
	ListingTypeOffer   ListingType = "offer"   // Предложение услуги
	ListingTypeRequest ListingType = "request" // Запрос услуги
)

func (t ListingType) String() string {
	return string(t)
}

// Opposite возвращает встречный тип объявления.
func (t ListingType) Opposite() ListingType {
	if t == ListingTypeOffer {
		return ListingTypeRequest
	}
	return ListingTypeOffer
}

// ListingRef — краткая ссылка на объявление пользователя.
// Используется для расчёта фактора взаимности.
type ListingRef struct {
	Type       ListingType
	CategoryID uuid.UUID
}

// ListingSummary — срез данных объявления, достаточный для скоринга.
// Поставляется коллаборатором Listings и никогда не персистится ядром.
type ListingSummary struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	OwnerID  uuid.UUID
	Type     ListingType

	CategoryID uuid.UUID
	// ParentCategoryID — родительская категория для частичного совпадения
	// по таксономии; nil, если иерархия недоступна
	ParentCategoryID *uuid.UUID

	// SkillTags — навыки/ключевые слова объявления
	SkillTags []string

	// Координаты; nil, если пользователь не указал локацию
	Latitude  *float64
	Longitude *float64

	CreatedAt time.Time

	// Атрибуты полноты для фактора качества
	DescriptionLength int
	HasImage          bool
	OwnerVerified     bool
	OwnerRating       *float64

	// OwnerListings — остальные активные объявления владельца,
	// нужны для фактора взаимности
	OwnerListings []ListingRef
}

// HasCoordinates сообщает, указана ли у объявления геопозиция.
func (l ListingSummary) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// ListingPair — эфемерная пара offer/request для скоринга.
type ListingPair struct {
	Offer   ListingSummary
	Request ListingSummary
}
