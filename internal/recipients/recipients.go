// Package recipients validates and merges the mailing list a summary is sent to.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	ErrInvalidEmail  = errors.New("please enter a valid email address")
	ErrDuplicate     = errors.New("this email is already in the list")
	ErrOutOfRange    = errors.New("recipient index out of range")
	ErrEmptyFile     = errors.New("the CSV file is empty")
	ErrMissingColumn = errors.New("no email column found in the CSV header")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

func Valid(email string) bool {
	return emailPattern.MatchString(email)
}

// Add returns list with email appended. The input is trimmed first.
func Add(list []string, email string) ([]string, error) {
	email = strings.TrimSpace(email)
	if !Valid(email) {
		return list, ErrInvalidEmail
	}
	if contains(list, email) {
		return list, ErrDuplicate
	}
	return append(append([]string{}, list...), email), nil
}

func Remove(list []string, index int) ([]string, error) {
	if index < 0 || index >= len(list) {
		return list, ErrOutOfRange
	}
	out := make([]string, 0, len(list)-1)
	out = append(out, list[:index]...)
	return append(out, list[index+1:]...), nil
}

// ImportCSV parses r and merges the addresses into list.
func ImportCSV(list []string, r io.Reader) ([]string, int, error) {
	emails, err := ParseCSV(r)
	if err != nil {
		return list, 0, err
	}
	out, added := Merge(list, emails)
	return out, added, nil
}

// ParseCSV returns the valid addresses of the first email-like column, in
// file order. Duplicates within the file are kept.
func ParseCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	column := emailColumn(header)
	if column < 0 {
		return nil, ErrMissingColumn
	}

	var emails []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if column >= len(record) {
			continue
		}
		if email := strings.TrimSpace(record[column]); Valid(email) {
			emails = append(emails, email)
		}
	}
	return emails, nil
}

// Merge appends the emails not already in list and reports how many were
// added. list is not modified.
func Merge(list, emails []string) ([]string, int) {
	out := append([]string{}, list...)
	added := 0
	for _, email := range emails {
		if contains(out, email) {
			continue
		}
		out = append(out, email)
		added++
	}
	return out, added
}

// emailColumn matches "email", "e-mail" and "mail" headers alike.
func emailColumn(header []string) int {
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if strings.Contains(name, "mail") {
			return i
		}
	}
	return -1
}

func contains(list []string, email string) bool {
	for _, existing := range list {
		if existing == email {
			return true
		}
	}
	return false
}
