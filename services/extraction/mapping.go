package extraction

import (
	"fmt"
	"strings"

	"github.com/phuslu/log"

	"github.com/vnkhanh/timesheet-server/models"
	"github.com/vnkhanh/timesheet-server/services/worker"
)

// vendorSuffix is boilerplate appearing in client names on the timesheets
// themselves. Stripped before using a client name as a mapping key so
// "Acme Technology Consulting LLC" and "acme" resolve to the same project.
const vendorSuffix = " technology consulting llc"

// NormalizeClient folds a client name into the mapping key form: lowercase,
// vendor suffix stripped, trimmed.
func NormalizeClient(name string) string {
	key := strings.ToLower(name)
	key = strings.ReplaceAll(key, vendorSuffix, "")
	return strings.TrimSpace(key)
}

// buildEmployeeMapping assembles the in-memory employee/project map sent to
// the worker: one entry per employee email, each holding that employee's
// projects keyed by normalized client name. Rebuilt per run, never persisted.
func (s *Service) buildEmployeeMapping() (map[string]worker.EmployeeMapping, error) {
	var employees []models.Employee
	if err := s.db.Find(&employees).Error; err != nil {
		return nil, fmt.Errorf("load employees: %w", err)
	}

	var projects []models.Project
	if err := s.db.Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}

	mapping := make(map[string]worker.EmployeeMapping, len(employees))
	for _, e := range employees {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if email == "" {
			continue
		}
		mapping[email] = worker.EmployeeMapping{
			Name:       e.Name,
			EmployeeID: e.EmployeeCode,
			Projects:   make(map[string]worker.ProjectAssignment),
		}
	}

	for _, p := range projects {
		email := strings.ToLower(strings.TrimSpace(p.EmployeeEmail))
		if email == "" {
			continue
		}
		em, ok := mapping[email]
		if !ok {
			// Project rows can reference employees missing from the employee
			// table. Synthesize a minimal entry rather than failing the run.
			log.Warn().Str("email", email).Str("project", p.ProjectName).
				Msg("project references unknown employee, synthesizing mapping entry")
			em = worker.EmployeeMapping{
				Name:       strings.SplitN(email, "@", 2)[0],
				EmployeeID: email,
				Projects:   make(map[string]worker.ProjectAssignment),
			}
		}
		em.Projects[NormalizeClient(p.Client)] = worker.ProjectAssignment{
			Project:       p.ProjectName,
			RequiredHours: p.RequiredHours,
		}
		mapping[email] = em
	}

	return mapping, nil
}
