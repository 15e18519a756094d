package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scanmark/scanmark-api/internal/models"
	appErrors "github.com/scanmark/scanmark-api/pkg/errors"
)

type mockFullClassRepo struct {
	classes     map[string]*models.Class
	enrollments map[string][]string
	deleted     []string
	nextID      int
}

func newMockFullClassRepo() *mockFullClassRepo {
	return &mockFullClassRepo{
		classes:     make(map[string]*models.Class),
		enrollments: make(map[string][]string),
	}
}

func (m *mockFullClassRepo) Create(ctx context.Context, class *models.Class) error {
	m.nextID++
	class.ID = fmt.Sprintf("class-%d", m.nextID)
	stored := *class
	m.classes[class.ID] = &stored
	return nil
}

func (m *mockFullClassRepo) FindByID(ctx context.Context, id string) (*models.Class, error) {
	class, ok := m.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *class
	return &copied, nil
}

func (m *mockFullClassRepo) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	var out []models.Class
	for _, class := range m.classes {
		if class.TeacherID != filter.TeacherID {
			continue
		}
		if filter.Search != "" && !strings.Contains(class.ClassCode, filter.Search) {
			continue
		}
		out = append(out, *class)
	}
	return out, len(out), nil
}

func (m *mockFullClassRepo) Update(ctx context.Context, class *models.Class) error {
	if _, ok := m.classes[class.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *class
	m.classes[class.ID] = &stored
	return nil
}

func (m *mockFullClassRepo) Delete(ctx context.Context, id string) error {
	delete(m.classes, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockFullClassRepo) Enroll(ctx context.Context, classID, studentID string) (bool, error) {
	for _, existing := range m.enrollments[classID] {
		if existing == studentID {
			return false, nil
		}
	}
	m.enrollments[classID] = append(m.enrollments[classID], studentID)
	return true, nil
}

func (m *mockFullClassRepo) Roster(ctx context.Context, classID string) ([]models.ClassRosterRow, error) {
	rows := make([]models.ClassRosterRow, 0, len(m.enrollments[classID]))
	for _, studentID := range m.enrollments[classID] {
		rows = append(rows, models.ClassRosterRow{StudentID: studentID})
	}
	return rows, nil
}

func newClassService(repo *mockFullClassRepo, students *mockStudentRepo) *ClassService {
	return NewClassService(repo, students, nil, zap.NewNop())
}

func TestClassServiceCreateAndGet(t *testing.T) {
	repo := newMockFullClassRepo()
	svc := newClassService(repo, &mockStudentRepo{})

	created, err := svc.Create(context.Background(), "t1", models.CreateClassRequest{
		ClassCode:   "CS101",
		SubjectName: "Intro to Computing",
		Schedule:    "MWF 9:00-10:00",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "CS101 - Intro to Computing", created.DisplayName())

	got, err := svc.Get(context.Background(), created.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestClassServiceCreateRejectsMissingFields(t *testing.T) {
	svc := newClassService(newMockFullClassRepo(), &mockStudentRepo{})

	_, err := svc.Create(context.Background(), "t1", models.CreateClassRequest{ClassCode: "CS101"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestClassServiceOwnershipEnforced(t *testing.T) {
	repo := newMockFullClassRepo()
	repo.classes["c1"] = &models.Class{ID: "c1", TeacherID: "t1", ClassCode: "CS101", SubjectName: "Computing", Schedule: "MWF"}
	svc := newClassService(repo, &mockStudentRepo{})

	_, err := svc.Get(context.Background(), "c1", "t2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "c1", "t2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}

func TestClassServiceUpdatePartial(t *testing.T) {
	repo := newMockFullClassRepo()
	repo.classes["c1"] = &models.Class{ID: "c1", TeacherID: "t1", ClassCode: "CS101", SubjectName: "Computing", Schedule: "MWF"}
	svc := newClassService(repo, &mockStudentRepo{})

	room := "B-204"
	updated, err := svc.Update(context.Background(), "c1", "t1", models.UpdateClassRequest{Room: &room})
	require.NoError(t, err)
	require.NotNil(t, updated.Room)
	assert.Equal(t, "B-204", *updated.Room)
	assert.Equal(t, "CS101", updated.ClassCode)
}

func TestClassServiceRegisterStudentIsIdempotent(t *testing.T) {
	repo := newMockFullClassRepo()
	repo.classes["c1"] = &models.Class{ID: "c1", TeacherID: "t1", ClassCode: "CS101", SubjectName: "Computing", Schedule: "MWF"}
	students := &mockStudentRepo{students: map[string]*models.Student{
		"s1": {ID: "s1", UserID: "u-s1", StudentCode: "2026-0001"},
	}}
	svc := newClassService(repo, students)

	_, err := svc.RegisterStudent(context.Background(), "c1", "u-s1")
	require.NoError(t, err)
	_, err = svc.RegisterStudent(context.Background(), "c1", "u-s1")
	require.NoError(t, err)
	assert.Len(t, repo.enrollments["c1"], 1)
}

func TestClassServiceRegisterStudentUnknownClass(t *testing.T) {
	svc := newClassService(newMockFullClassRepo(), &mockStudentRepo{})

	_, err := svc.RegisterStudent(context.Background(), "missing", "u-s1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
