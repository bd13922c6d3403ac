package tariff

import "github.com/shopspring/decimal"

// DefaultCatalog is the starter price list loaded by "billing-server tariff seed".
func DefaultCatalog() []SetPriceInput {
	var items []SetPriceInput
	add := func(cat Category, rows ...seedRow) {
		for _, r := range rows {
			items = append(items, SetPriceInput{
				Code:        r.code,
				Category:    string(cat),
				Description: r.desc,
				UnitPrice:   decimal.NewFromInt(r.price),
			})
		}
	}

	add(CategoryConsultation,
		seedRow{"CONS-01", "General consultation", 500},
		seedRow{"CONS-OPD-GEN", "OPD consultation - general physician", 300},
		seedRow{"CONS-OPD-SPEC", "OPD consultation - specialist", 500},
		seedRow{"CONS-OPD-SENIOR", "OPD consultation - senior consultant", 800},
		seedRow{"CONS-FOLLOWUP", "Follow-up consultation", 200},
		seedRow{"CONS-CARDIO", "Cardiology consultation", 1000},
		seedRow{"CONS-ORTHO", "Orthopaedic consultation", 700},
		seedRow{"CONS-NEURO", "Neurology consultation", 1200},
		seedRow{"CONS-PEDIA", "Paediatric consultation", 400},
		seedRow{"CONS-GYNAEC", "Gynaecology consultation", 600},
	)
	add(CategoryEmergency,
		seedRow{"EMG-REG", "Emergency registration", 200},
		seedRow{"EMG-TRIAGE", "Emergency triage assessment", 500},
		seedRow{"EMG-CRITICAL", "Critical care - first hour", 2000},
		seedRow{"EMG-RESUS", "Resuscitation", 5000},
	)
	add(CategoryLab,
		seedRow{"LAB-CBC", "Complete blood count", 350},
		seedRow{"LAB-LFT", "Liver function test", 800},
		seedRow{"LAB-KFT", "Kidney function test", 700},
		seedRow{"LAB-LIPID", "Lipid profile", 600},
		seedRow{"LAB-THYROID", "Thyroid profile", 700},
		seedRow{"LAB-HBA1C", "HbA1c", 500},
		seedRow{"LAB-URINE", "Urine routine", 150},
		seedRow{"LAB-ESR", "ESR", 100},
		seedRow{"LAB-GLUCOSE-F", "Blood glucose fasting", 80},
		seedRow{"LAB-GLUCOSE-PP", "Blood glucose post prandial", 80},
		seedRow{"LAB-CULTURE", "Culture and sensitivity", 1200},
	)
	add(CategoryRadiology,
		seedRow{"RAD-XRAY-CHEST", "X-ray chest PA view", 400},
		seedRow{"RAD-XRAY-LIMB", "X-ray limb", 350},
		seedRow{"RAD-USG-ABD", "Ultrasound abdomen", 1500},
		seedRow{"RAD-USG-OBS", "Ultrasound obstetric", 1200},
		seedRow{"RAD-CT-HEAD", "CT head plain", 3500},
		seedRow{"RAD-CT-ABD", "CT abdomen contrast", 5000},
		seedRow{"RAD-MRI-BRAIN", "MRI brain", 8000},
		seedRow{"RAD-MRI-SPINE", "MRI spine", 7000},
		seedRow{"RAD-ECG", "ECG 12 lead", 300},
		seedRow{"RAD-ECHO", "2D echocardiography", 2500},
	)
	add(CategoryRoom,
		seedRow{"ROOM-GEN", "General ward per day", 1500},
		seedRow{"ROOM-SEMI", "Semi-private room per day", 3000},
		seedRow{"ROOM-PVT", "Private room per day", 5000},
		seedRow{"ROOM-DELUXE", "Deluxe room per day", 8000},
		seedRow{"ROOM-ICU", "ICU bed per day", 12000},
		seedRow{"ROOM-NICU", "NICU bed per day", 15000},
		seedRow{"ROOM-PICU", "PICU bed per day", 14000},
	)
	add(CategoryProcedure,
		seedRow{"PROC-SUTURE-MINOR", "Minor suturing", 1000},
		seedRow{"PROC-SUTURE-MAJOR", "Major suturing", 2500},
		seedRow{"PROC-DRESSING", "Wound dressing", 500},
		seedRow{"PROC-INJECTION-IM", "Intramuscular injection", 100},
		seedRow{"PROC-INJECTION-IV", "Intravenous injection", 150},
		seedRow{"PROC-CANNULA", "IV cannulation", 200},
		seedRow{"PROC-CATHETER", "Urinary catheterisation", 400},
		seedRow{"PROC-NGT", "Nasogastric tube insertion", 500},
		seedRow{"PROC-NEBULIZER", "Nebulisation", 200},
	)
	add(CategoryPharmacy,
		seedRow{"PHARM-PARACETAMOL", "Paracetamol 500mg tablet", 5},
		seedRow{"PHARM-IBUPROFEN", "Ibuprofen 400mg tablet", 8},
		seedRow{"PHARM-AMOXICILLIN", "Amoxicillin 500mg capsule", 15},
		seedRow{"PHARM-AZITHROMYCIN", "Azithromycin 500mg tablet", 80},
		seedRow{"PHARM-PANTOPRAZOLE", "Pantoprazole 40mg tablet", 10},
	)
	return items
}

type seedRow struct {
	code  string
	desc  string
	price int64
}
