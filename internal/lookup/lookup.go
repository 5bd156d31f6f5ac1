// Package lookup loads the code -> name dictionaries shipped with the auction
// logs (cities, regions, user profile tags).
package lookup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Table maps integer codes to human-readable names. It is read-only after load.
type Table map[int]string

// Get returns the name for code, or "" when the code is unknown
func (t Table) Get(code int) string {
	return t[code]
}

// Tables groups the dictionaries used to enrich bid requests
type Tables struct {
	City            Table
	Region          Table
	UserProfileTags Table
}

// Paths locates the dictionary files
type Paths struct {
	City            string
	Region          string
	UserProfileTags string
}

// LoadAll loads every configured table. Unset paths produce empty tables.
func LoadAll(p Paths) (*Tables, error) {
	city, err := Load(p.City)
	if err != nil {
		return nil, fmt.Errorf("city table: %w", err)
	}
	region, err := Load(p.Region)
	if err != nil {
		return nil, fmt.Errorf("region table: %w", err)
	}
	tags, err := Load(p.UserProfileTags)
	if err != nil {
		return nil, fmt.Errorf("user profile tags table: %w", err)
	}
	return &Tables{City: city, Region: region, UserProfileTags: tags}, nil
}

// Load reads a table file
func Load(path string) (Table, error) {
	if path == "" {
		return Table{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads "<code><whitespace><name>" lines. Blank lines are skipped; the
// name is the remainder of the line and may contain spaces.
func Parse(r io.Reader) (Table, error) {
	t := Table{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			return nil, fmt.Errorf("line %d: missing name", lineNo)
		}
		code, err := strconv.Atoi(line[:idx])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad code %q", lineNo, line[:idx])
		}
		t[code] = strings.TrimSpace(line[idx:])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
