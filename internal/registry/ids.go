// Package registry holds the department registry and the doctor and patient
// directories the scheduler consults.
package registry

import (
	"errors"
	"regexp"
)

const (
	DoctorListHeader  = "[의사번호] [의사이름] [진료과 코드] [전화번호] [등록일]"
	PatientListHeader = "[환자 번호] [아이디] [환자 이름] [생년월일] [전화번호] [노쇼 횟수]"

	DateLayout = "2006-01-02"
)

var (
	ErrDepartmentNotFound = errors.New("department not found")
	ErrDepartmentExists   = errors.New("department already exists")
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrAmbiguousDoctor    = errors.New("doctor name matches more than one doctor")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrInvalidField       = errors.New("invalid field")
)

var (
	doctorIDPattern  = regexp.MustCompile(`^D\d{5}$`)
	patientIDPattern = regexp.MustCompile(`^P\d{6}$`)
	phonePattern     = regexp.MustCompile(`^\d{3}-\d{4}-\d{4}$`)
	deptCodePattern  = regexp.MustCompile(`^[A-Z]{2,6}$`)
	datePattern      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	countPattern     = regexp.MustCompile(`^\d+$`)
)

func IsDoctorID(s string) bool  { return doctorIDPattern.MatchString(s) }
func IsPatientID(s string) bool { return patientIDPattern.MatchString(s) }
func IsPhone(s string) bool     { return phonePattern.MatchString(s) }
func IsDeptCode(s string) bool  { return deptCodePattern.MatchString(s) }
func IsDate(s string) bool      { return datePattern.MatchString(s) }
func IsCount(s string) bool     { return countPattern.MatchString(s) }
