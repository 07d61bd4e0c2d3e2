package products

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	service, err := NewService(db)
	require.NoError(t, err)
	require.NoError(t, service.AutoMigrate())
	return service
}

func TestResolveCTAsSkipsOwnedCourses(t *testing.T) {
	service := newTestService(t)
	require.NoError(t, service.db.Create(&UserCourse{UserID: 7, CourseID: 1}).Error)

	ctas, err := service.ResolveCTAs(context.Background(), 7, []uint64{1, 2})

	require.NoError(t, err)
	require.Len(t, ctas, 1)
	assert.Equal(t, uint64(2), ctas[0].CourseID)
	assert.NotEmpty(t, ctas[0].CheckoutURL)
	assert.Contains(t, ctas[0].Message, ctas[0].CheckoutURL)
}

func TestResolveCTAsDistinctPerCourse(t *testing.T) {
	service := newTestService(t)

	ctas, err := service.ResolveCTAs(context.Background(), 7, []uint64{1, 2, 1, 2, 1})

	require.NoError(t, err)
	require.Len(t, ctas, 2)
	assert.NotEqual(t, ctas[0].CourseID, ctas[1].CourseID)
}

func TestResolveCTAsNeverFabricates(t *testing.T) {
	service := newTestService(t)

	ctas, err := service.ResolveCTAs(context.Background(), 7, []uint64{999, 0})

	require.NoError(t, err)
	assert.Empty(t, ctas)
}

func TestResolveCTAsAnonymousUserOwnsNothing(t *testing.T) {
	service := newTestService(t)
	require.NoError(t, service.db.Create(&UserCourse{UserID: 7, CourseID: 1}).Error)

	ctas, err := service.ResolveCTAs(context.Background(), 0, []uint64{1})

	require.NoError(t, err)
	require.Len(t, ctas, 1)
}

func TestLookup(t *testing.T) {
	service := newTestService(t)

	product, ok := service.Lookup(1)
	assert.True(t, ok)
	assert.NotEmpty(t, product.Name)

	_, ok = service.Lookup(999)
	assert.False(t, ok)
}

func TestParseCatalogJSONFiltersInvalidEntries(t *testing.T) {
	raw := `[
		{"course_id": 10, "name": "Curso válido", "checkout_url": "https://pay.example/valido"},
		{"course_id": 0, "name": "Sem id", "checkout_url": "https://pay.example/x"},
		{"course_id": 11, "name": "", "checkout_url": "https://pay.example/y"},
		{"course_id": 12, "name": "Sem link", "checkout_url": ""}
	]`

	catalog := parseCatalogJSON(raw)

	require.Len(t, catalog, 1)
	assert.Equal(t, uint64(10), catalog[0].CourseID)
}

func TestParseCatalogJSONMalformed(t *testing.T) {
	assert.Nil(t, parseCatalogJSON("não é json"))
}
