// Package methodology holds the fixed research taxonomy behind the
// Global Queer Safety Index: six dimensions of ten sub-points each,
// plus the identity axes every dimension score is broken down by.
package methodology

import "strings"

// Dimension is one category of the index methodology.
type Dimension struct {
	Name      string
	SubPoints []string
}

// Dimensions is the compile-time taxonomy. The planner generates
// research questions per dimension; the scorer keys its score matrix
// by Key(dimension.Name).
var Dimensions = []Dimension{
	{
		Name: "Legal Protections",
		SubPoints: []string{
			"Constitutional protections and equality provisions",
			"Anti-discrimination laws (employment, housing, services, education)",
			"Marriage and civil union recognition",
			"Adoption and parenting rights",
			"Gender recognition procedures and requirements",
			"Hate crime legislation and enforcement",
			"Military service policies",
			"Healthcare access protections",
			"Blood donation policies",
			"Asylum and refugee protections",
		},
	},
	{
		Name: "Social Attitudes",
		SubPoints: []string{
			"Public opinion polling on LGBTQ+ acceptance",
			"Religious and cultural attitudes",
			"Media representation and visibility",
			"Pride celebration safety and participation",
			"Public displays of affection acceptance",
			"Workplace inclusion attitudes",
			"Educational environment safety",
			"Family acceptance rates",
			"Generational attitude differences",
			"Urban vs. rural acceptance variations",
		},
	},
	{
		Name: "Healthcare Access",
		SubPoints: []string{
			"General healthcare system quality and accessibility",
			"LGBTQ+-affirming provider availability and training",
			"Gender-affirming care access and coverage",
			"Mental health services for LGBTQ+ individuals",
			"HIV/AIDS prevention, testing, and treatment",
			"Sexual health services and education",
			"Insurance coverage for LGBTQ+-related care",
			"Conversion therapy bans and protections",
			"Emergency healthcare non-discrimination",
			"Reproductive health access for LGBTQ+ individuals",
		},
	},
	{
		Name: "Physical Safety",
		SubPoints: []string{
			"Hate crime rates and reporting",
			"Police responsiveness and competency",
			"General crime rates and safety conditions",
			"Domestic violence protections and services",
			"Safe spaces and community centers",
			"School safety and anti-bullying policies",
			"Workplace harassment protections",
			"Public transportation safety",
			"Tourism safety for LGBTQ+ visitors",
			"Emergency response effectiveness",
		},
	},
	{
		Name: "Economic Opportunities",
		SubPoints: []string{
			"Workplace discrimination protections",
			"Economic inclusion initiatives",
			"LGBTQ+ business support and networking",
			"Access to financial services",
			"Housing discrimination protections",
			"Educational opportunity equality",
			"Professional advancement barriers",
			"Entrepreneurship support",
			"Government employment policies",
			"Corporate diversity and inclusion",
		},
	},
	{
		Name: "Community Support",
		SubPoints: []string{
			"LGBTQ+ organization presence and strength",
			"Community center availability",
			"Support group accessibility",
			"Advocacy organization effectiveness",
			"Peer support network strength",
			"Online community access and safety",
			"Intergenerational support systems",
			"Crisis intervention services",
			"Cultural and social event availability",
			"Volunteer and activism opportunities",
		},
	},
}

// IdentityAxes are the identities each dimension score decomposes
// into. The decomposition is structural: a score without per-identity
// sub-scores is rejected.
var IdentityAxes = []string{
	"Gay/Lesbian",
	"Bisexual",
	"Transgender",
	"Non-binary",
	"Intersex",
	"Asexual",
}

// Key converts a dimension name to its snake_case score-matrix key,
// e.g. "Legal Protections" -> "legal_protections".
func Key(name string) string {
	k := strings.ToLower(name)
	k = strings.ReplaceAll(k, " ", "_")
	return k
}
