package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/storage"
)

func TestDepartmentsDefaultsWritten(t *testing.T) {
	dir := t.TempDir()

	deps, err := LoadDepartments(dir)
	require.NoError(t, err)
	assert.Len(t, deps.All(), len(DefaultDepartments))
	assert.True(t, deps.Exists("IM"))
	assert.False(t, deps.Exists("XYZ"))

	lines, err := storage.ReadLines(DepartmentsPath(dir))
	require.NoError(t, err)
	assert.Equal(t, "IM 내과", lines[0])

	require.NoError(t, deps.Add("neuro", "신경과"))
	assert.ErrorIs(t, deps.Add("NEURO", "신경과"), ErrDepartmentExists)

	reloaded, err := LoadDepartments(dir)
	require.NoError(t, err)
	name, ok := reloaded.Name("NEURO")
	require.True(t, ok)
	assert.Equal(t, "신경과", name)
}

func TestParseDepartmentsRejectsBadCode(t *testing.T) {
	_, err := ParseDepartments([]string{"im 내과"})
	assert.ErrorIs(t, err, ErrInvalidField)

	_, err = ParseDepartments([]string{"IM 내과", "IM 외과"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestDoctorsResolveAndAdd(t *testing.T) {
	dir := t.TempDir()
	docs, err := LoadDoctors(dir)
	require.NoError(t, err)
	assert.Equal(t, "D00001", docs.NextID())

	kim := Doctor{ID: "D00001", Name: "김철수", Dept: "IM", Phone: "010-1111-2222", Registered: "2025-01-02"}
	lee := Doctor{ID: "D00002", Name: "이영희", Dept: "GS", Phone: "010-3333-4444", Registered: "2025-01-03"}
	require.NoError(t, docs.Add(kim))
	require.NoError(t, docs.Add(lee))
	assert.Error(t, docs.Add(kim))

	got, err := docs.Resolve("이영희")
	require.NoError(t, err)
	assert.Equal(t, "D00002", got.ID)

	got, err = docs.Resolve("D00001")
	require.NoError(t, err)
	assert.Equal(t, kim, got)

	_, err = docs.Resolve("D00009")
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	require.NoError(t, docs.Add(Doctor{ID: "D00003", Name: "김철수", Dept: "PED", Phone: "010-5555-6666", Registered: "2025-02-01"}))
	_, err = docs.Resolve("김철수")
	assert.ErrorIs(t, err, ErrAmbiguousDoctor)

	reloaded, err := LoadDoctors(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"D00001", "D00002", "D00003"}, reloaded.IDs())
	assert.Equal(t, "D00004", reloaded.NextID())
	assert.Len(t, reloaded.InDepartment("IM"), 1)
}

func TestDoctorListMalformedRow(t *testing.T) {
	dir := t.TempDir()
	path := DoctorListPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(DoctorListHeader+"\nD00001 김철수 IM 0101112222 2025-01-02\n"), 0o644))

	_, err := LoadDoctors(dir)
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestPatientsNoShowCount(t *testing.T) {
	dir := t.TempDir()
	pats, err := LoadPatients(dir)
	require.NoError(t, err)

	p := Patient{ID: "P000001", Username: "hong", Name: "홍길동", Birth: "1990-05-05", Phone: "010-1234-5678"}
	require.NoError(t, pats.Add(p))
	require.NoError(t, pats.SetNoShowCount("P000001", 2))
	assert.ErrorIs(t, pats.SetNoShowCount("P000404", 1), ErrPatientNotFound)

	lines, err := storage.ReadLines(PatientListPath(dir))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, PatientListHeader, lines[0])
	assert.Equal(t, "P000001 hong 홍길동 1990-05-05 010-1234-5678 2", lines[1])

	reloaded, err := LoadPatients(dir)
	require.NoError(t, err)
	got, err := reloaded.Get("P000001")
	require.NoError(t, err)
	assert.Equal(t, 2, got.NoShows)
	assert.Equal(t, "P000002", reloaded.NextID())
}
