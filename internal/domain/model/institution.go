package model

import "strings"

// Institution describes a supported university: where its Moodle lives and
// which email domains identify its students at stage-1 login.
type Institution struct {
	ID           string
	Name         string
	NameHebrew   string
	MoodleURL    string
	LoginPath    string
	EmailDomains []string
}

// LoginURL returns the full Moodle login endpoint for the institution.
func (i Institution) LoginURL() string {
	return strings.TrimRight(i.MoodleURL, "/") + i.LoginPath
}

// institutions is the static registry of supported universities.
var institutions = []Institution{
	{
		ID:           "bgu",
		Name:         "Ben-Gurion University of the Negev",
		NameHebrew:   "אוניברסיטת בן-גוריון בנגב",
		MoodleURL:    "https://moodle.bgu.ac.il",
		LoginPath:    "/moodle/login/index.php",
		EmailDomains: []string{"post.bgu.ac.il", "bgu.ac.il"},
	},
	{
		ID:           "tau",
		Name:         "Tel Aviv University",
		NameHebrew:   "אוניברסיטת תל אביב",
		MoodleURL:    "https://moodle.tau.ac.il",
		LoginPath:    "/login/index.php",
		EmailDomains: []string{"mail.tau.ac.il", "tau.ac.il"},
	},
	{
		ID:           "huji",
		Name:         "The Hebrew University of Jerusalem",
		NameHebrew:   "האוניברסיטה העברית בירושלים",
		MoodleURL:    "https://moodle.huji.ac.il",
		LoginPath:    "/login/index.php",
		EmailDomains: []string{"mail.huji.ac.il", "huji.ac.il"},
	},
}

// InstitutionByID looks up a supported institution. The second return value
// is false when the id is not in the registry.
func InstitutionByID(id string) (Institution, bool) {
	for _, inst := range institutions {
		if inst.ID == id {
			return inst, true
		}
	}
	return Institution{}, false
}

// InstitutionByEmail matches an email address to an institution by domain.
// Matching is case-insensitive on the domain part.
func InstitutionByEmail(email string) (Institution, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return Institution{}, false
	}
	domain := strings.ToLower(email[at+1:])
	for _, inst := range institutions {
		for _, d := range inst.EmailDomains {
			if domain == d {
				return inst, true
			}
		}
	}
	return Institution{}, false
}

// Institutions returns the full registry, for listings.
func Institutions() []Institution {
	out := make([]Institution, len(institutions))
	copy(out, institutions)
	return out
}
