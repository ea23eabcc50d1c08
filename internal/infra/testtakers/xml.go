package testtakers

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// Document mirrors the structure of one testtakers XML file.
type Document struct {
	XMLName     xml.Name     `xml:"Testtakers"`
	CustomTexts []CustomText `xml:"CustomTexts>CustomText"`
	Groups      []Group      `xml:"Group"`
}

// CustomText is one key/value override applied to every login in the file.
type CustomText struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Group is one cohort element with its logins.
type Group struct {
	ID        string  `xml:"id,attr"`
	Label     string  `xml:"label,attr"`
	ValidFrom string  `xml:"validFrom,attr"`
	ValidTo   string  `xml:"validTo,attr"`
	Logins    []Login `xml:"Login"`
}

// Login is one credential entry inside a group.
type Login struct {
	Name     string    `xml:"name,attr"`
	Password string    `xml:"pw,attr"`
	Mode     string    `xml:"mode,attr"`
	Booklets []Booklet `xml:"Booklet"`
}

// Booklet assigns a booklet name to zero or more access codes.
type Booklet struct {
	Codes string `xml:"codes,attr"`
	Name  string `xml:",chardata"`
}

// ValidationIssue is one problem found while loading a testtakers file.
// Issues marked fatal suppress the offending group; the rest of the file
// still loads.
type ValidationIssue struct {
	File    string
	Group   string
	Message string
	Fatal   bool
}

func (i ValidationIssue) String() string {
	severity := "warning"
	if i.Fatal {
		severity = "error"
	}
	return fmt.Sprintf("%s: %s (group %q, file %s)", severity, i.Message, i.Group, i.File)
}

// timeLayouts are the accepted formats for validFrom/validTo attributes.
var timeLayouts = []string{
	time.RFC3339,
	"02/01/2006 15:04",
}

// Parse decodes one testtakers XML document into group definitions for the
// workspace. Structural problems come back as issues, not as an error; the
// error covers undecodable XML only.
func Parse(data []byte, fileName string, workspaceID int) ([]domain.GroupDefinition, []ValidationIssue, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode testtakers xml %s: %w", fileName, err)
	}

	customTexts := map[string]string{}
	for _, text := range doc.CustomTexts {
		if text.Key != "" {
			customTexts[text.Key] = strings.TrimSpace(text.Value)
		}
	}

	var groups []domain.GroupDefinition
	var issues []ValidationIssue
	for _, group := range doc.Groups {
		if group.ID == "" {
			issues = append(issues, ValidationIssue{
				File: fileName, Message: "group without id attribute", Fatal: true,
			})
			continue
		}

		definition := domain.GroupDefinition{
			Name:        group.ID,
			Label:       group.Label,
			WorkspaceID: workspaceID,
		}

		var ok bool
		if definition.ValidFrom, ok = parseValidity(group.ValidFrom); !ok {
			issues = append(issues, ValidationIssue{
				File: fileName, Group: group.ID,
				Message: fmt.Sprintf("unparseable validFrom %q", group.ValidFrom), Fatal: true,
			})
			continue
		}
		if definition.ValidTo, ok = parseValidity(group.ValidTo); !ok {
			issues = append(issues, ValidationIssue{
				File: fileName, Group: group.ID,
				Message: fmt.Sprintf("unparseable validTo %q", group.ValidTo), Fatal: true,
			})
			continue
		}

		for _, login := range group.Logins {
			if login.Name == "" {
				issues = append(issues, ValidationIssue{
					File: fileName, Group: group.ID,
					Message: "login without name attribute",
				})
				continue
			}
			if login.Mode != "" && !domain.KnownMode(login.Mode) {
				issues = append(issues, ValidationIssue{
					File: fileName, Group: group.ID,
					Message: fmt.Sprintf("login %q has unknown mode %q", login.Name, login.Mode),
				})
				continue
			}

			mode := login.Mode
			if mode == "" {
				mode = domain.ModeRunDemo
			}

			definition.Logins = append(definition.Logins, domain.LoginDescriptor{
				Name:        login.Name,
				Password:    login.Password,
				Mode:        mode,
				Booklets:    collectBookletsPerCode(login.Booklets),
				CustomTexts: customTexts,
			})
		}

		groups = append(groups, definition)
	}

	return groups, issues, nil
}

// collectBookletsPerCode builds the code-to-booklets map of one login.
// Booklet names are uppercased and deduplicated preserving order. Booklets
// without codes go to every code's list after the coded ones; when no coded
// booklet exists they live under the single empty-string code. Empty booklet
// names are skipped.
func collectBookletsPerCode(booklets []Booklet) map[string][]string {
	bookletsPerCode := map[string][]string{}
	var withoutCodes []string

	for _, booklet := range booklets {
		name := strings.ToUpper(strings.TrimSpace(booklet.Name))
		if name == "" {
			continue
		}

		codes := splitCodes(booklet.Codes)
		if len(codes) == 0 {
			withoutCodes = append(withoutCodes, name)
			continue
		}
		for _, code := range codes {
			bookletsPerCode[code] = append(bookletsPerCode[code], name)
		}
	}

	if len(bookletsPerCode) == 0 {
		bookletsPerCode[""] = dedupe(withoutCodes)
		return bookletsPerCode
	}

	for code, names := range bookletsPerCode {
		bookletsPerCode[code] = dedupe(append(names, withoutCodes...))
	}
	return bookletsPerCode
}

// splitCodes splits the space-separated codes attribute, deduplicated
// preserving order.
func splitCodes(raw string) []string {
	return dedupe(strings.Fields(raw))
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func parseValidity(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
