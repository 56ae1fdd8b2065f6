// Package lcatest provides complete application fixtures for tests.
package lcatest

import "github.com/wolfman30/lca-filing-automation/internal/lca"

// Application returns a valid single-worksite H-1B application in which
// every form field can be mapped directly.
func Application() lca.Application {
	fullTime := true
	return lca.Application{
		ID:       "app-1001",
		FormType: "H-1B",
		Employer: &lca.Employer{
			Name:      "Acme Analytics LLC",
			FEIN:      "123456789",
			NAICSCode: "541511",
			Address:   "100 Congress Ave",
			Address2:  "Suite 400",
			City:      "Austin",
			State:     "TX",
			Zip:       "78701",
			Country:   "United States",
			Phone:     "5125550100",
			Email:     "hr@acme.example",
		},
		Contact: &lca.Contact{
			FirstName: "Dana",
			LastName:  "Reyes",
			JobTitle:  "HR Director",
			Address:   "100 Congress Ave",
			City:      "Austin",
			State:     "TX",
			Zip:       "78701",
			Phone:     "5125550101",
			Email:     "dana.reyes@acme.example",
		},
		Job: &lca.Job{
			Title:        "Software Engineer",
			SOCCode:      "15-1252",
			SOCTitle:     "Software Developers",
			Duties:       "Design and build data services.",
			FullTime:     &fullTime,
			BeginDate:    "2026-10-01",
			EndDate:      "2029-09-30",
			TotalWorkers: 1,
		},
		Wages: &lca.Wages{
			Rate:           "125000",
			RateType:       "year",
			PrevailingWage: "118000",
			PWSource:       "OES",
			PWYear:         "2026",
		},
		Worksite: &lca.Worksite{
			Address: "100 Congress Ave",
			City:    "Austin",
			County:  "Travis",
			State:   "TX",
			Zip:     "78701",
		},
		Credentials: &lca.Credentials{
			Username: "filer@acme.example",
			Password: "correct horse battery staple",
		},
	}
}

// MultiWorksite returns Application with two additional worksites.
func MultiWorksite() lca.Application {
	app := Application()
	app.MultipleWorksites = true
	app.AdditionalWorksites = []lca.Worksite{
		{Address: "500 Main St", City: "Dallas", County: "Dallas", State: "TX", Zip: "75201"},
		{Address: "1 Market St", Address2: "Floor 3", City: "San Francisco", County: "San Francisco", State: "CA", Zip: "94105"},
	}
	return app
}
