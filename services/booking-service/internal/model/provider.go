package model

// Fees are per consultation kind, in minor currency units.
type Fees struct {
	InClinic int64
	Video    int64
	Chat     int64
}

func (f Fees) For(kind ConsultationKind) (int64, bool) {
	switch kind {
	case KindInClinic:
		return f.InClinic, f.InClinic > 0
	case KindVideo:
		return f.Video, f.Video > 0
	case KindChat:
		return f.Chat, f.Chat > 0
	}
	return 0, false
}

type WorkExperience struct {
	Position string
	Hospital string
	Duration string
}

type Provider struct {
	ID              string
	Name            string
	Specialization  string
	ExperienceYears int
	Followers       int
	Rating          float64
	Languages       []string
	About           string
	Specializations []string
	ConcernsTreated []string
	WorkExperience  []WorkExperience
	Fees            Fees
	Image           string
	Location        string
	Gender          string
}
