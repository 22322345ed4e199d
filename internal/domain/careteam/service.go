package careteam

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	links LinkRepository
}

func NewService(links LinkRepository) *Service {
	return &Service{links: links}
}

// Patients lists the doctor's linked patients, narrowed by search when it is
// not blank.
func (s *Service) Patients(ctx context.Context, doctorID uuid.UUID, search string) ([]*Patient, error) {
	all, err := s.links.ListPatients(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	search = strings.TrimSpace(search)
	if search == "" {
		return all, nil
	}
	out := make([]*Patient, 0, len(all))
	for _, p := range all {
		if p.Matches(search) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Service) Linked(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	return s.links.IsLinked(ctx, doctorID, patientID)
}
