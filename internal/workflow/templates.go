package workflow

import "time"

// builtinTemplates returns the recurring marine analysis workflows for the
// Angolan EEZ. Recurrence strings are cron-like hints consumed by external
// schedulers; the dispatcher only honors explicit ScheduleAt times.
func builtinTemplates() []*Template {
	return []*Template{
		{
			ID:             "biodiversity_monthly_report",
			Name:           "Monthly Biodiversity Report",
			Description:    "Full monthly analysis of marine biodiversity across the Angolan EEZ",
			Type:           TypeBiodiversityAnalysis,
			Recurrence:     "0 2 1 * *",
			EstimatedTotal: time.Hour,
			Steps: []StepSpec{
				{
					ID:         "collect_obis_data",
					Name:       "Collect OBIS Data",
					Function:   "collect_biodiversity_data",
					Parameters: map[string]any{"source": "obis", "period_days": 30},
				},
				{
					ID:         "collect_gbif_data",
					Name:       "Collect GBIF Data",
					Function:   "collect_biodiversity_data",
					Parameters: map[string]any{"source": "gbif", "period_days": 30},
				},
				{
					ID:           "calculate_indices",
					Name:         "Calculate Biodiversity Indices",
					Function:     "calculate_biodiversity_indices",
					Parameters:   map[string]any{"include_shannon": true, "include_simpson": true},
					Dependencies: []string{"collect_obis_data", "collect_gbif_data"},
				},
				{
					ID:           "generate_maps",
					Name:         "Generate Distribution Maps",
					Function:     "generate_species_distribution_maps",
					Parameters:   map[string]any{"map_type": "folium", "include_density": true},
					Dependencies: []string{"calculate_indices"},
				},
				{
					ID:           "create_report",
					Name:         "Create Final Report",
					Function:     "generate_scientific_report",
					Parameters:   map[string]any{"format": "html", "include_recommendations": true},
					Dependencies: []string{"generate_maps"},
				},
			},
		},
		{
			ID:             "oceanographic_daily_analysis",
			Name:           "Daily Oceanographic Analysis",
			Description:    "Daily processing of Copernicus oceanographic data",
			Type:           TypeOceanographicMonitoring,
			Recurrence:     "0 6 * * *",
			EstimatedTotal: 30 * time.Minute,
			Steps: []StepSpec{
				{
					ID:         "fetch_copernicus",
					Name:       "Fetch Copernicus Data",
					Function:   "fetch_copernicus_daily_data",
					Parameters: map[string]any{"variables": []string{"sst", "salinity", "chlorophyll"}, "zee_angola": true},
				},
				{
					ID:           "quality_control",
					Name:         "Quality Control",
					Function:     "perform_quality_control",
					Parameters:   map[string]any{"threshold": 0.8, "remove_outliers": true},
					Dependencies: []string{"fetch_copernicus"},
				},
				{
					ID:           "calculate_statistics",
					Name:         "Calculate Statistics",
					Function:     "calculate_oceanographic_statistics",
					Parameters:   map[string]any{"include_trends": true, "compare_historical": true},
					Dependencies: []string{"quality_control"},
				},
				{
					ID:           "generate_alerts",
					Name:         "Generate Environmental Alerts",
					Function:     "check_environmental_alerts",
					Parameters:   map[string]any{"thresholds": "angola_specific"},
					Dependencies: []string{"calculate_statistics"},
				},
			},
		},
		{
			ID:             "fisheries_weekly_assessment",
			Name:           "Weekly Fisheries Assessment",
			Description:    "Weekly analysis of fishing activity across Angola's three zones",
			Type:           TypeFisheriesAssessment,
			Recurrence:     "0 8 * * 1",
			EstimatedTotal: 40 * time.Minute,
			Steps: []StepSpec{
				{
					ID:         "collect_fishing_data",
					Name:       "Collect Fishing Data",
					Function:   "collect_fisheries_statistics",
					Parameters: map[string]any{"zones": []string{"norte", "centro", "sul"}, "period_days": 7},
				},
				{
					ID:           "analyze_catch_trends",
					Name:         "Analyze Catch Trends",
					Function:     "analyze_catch_trends",
					Parameters:   map[string]any{"include_species_breakdown": true, "compare_quotas": true},
					Dependencies: []string{"collect_fishing_data"},
				},
				{
					ID:           "assess_sustainability",
					Name:         "Assess Sustainability",
					Function:     "assess_fishing_sustainability",
					Parameters:   map[string]any{"use_msy_reference": true, "include_recommendations": true},
					Dependencies: []string{"analyze_catch_trends"},
				},
				{
					ID:           "generate_fisheries_report",
					Name:         "Generate Fisheries Report",
					Function:     "generate_fisheries_report",
					Parameters:   map[string]any{"format": "html", "include_maps": true, "send_email": true},
					Dependencies: []string{"assess_sustainability"},
				},
			},
		},
		{
			ID:             "species_distribution_modeling",
			Name:           "Species Distribution Modeling",
			Description:    "MaxEnt modeling for priority marine species",
			Type:           TypeSpeciesDistribution,
			Recurrence:     "0 3 1 * *",
			EstimatedTotal: 2 * time.Hour,
			Steps: []StepSpec{
				{
					ID:         "prepare_occurrence_data",
					Name:       "Prepare Occurrence Data",
					Function:   "prepare_species_occurrence_data",
					Parameters: map[string]any{"min_occurrences": 20, "quality_filter": true},
				},
				{
					ID:         "prepare_environmental_layers",
					Name:       "Prepare Environmental Layers",
					Function:   "prepare_environmental_layers",
					Parameters: map[string]any{"variables": []string{"sst", "salinity", "depth", "chlorophyll"}, "resolution": "0.25deg"},
				},
				{
					ID:           "run_maxent_models",
					Name:         "Run MaxEnt Models",
					Function:     "run_maxent_species_models",
					Parameters:   map[string]any{"cross_validation": true, "feature_classes": "auto"},
					Dependencies: []string{"prepare_occurrence_data", "prepare_environmental_layers"},
				},
				{
					ID:           "validate_models",
					Name:         "Validate Models",
					Function:     "validate_distribution_models",
					Parameters:   map[string]any{"auc_threshold": 0.7, "test_percentage": 25},
					Dependencies: []string{"run_maxent_models"},
				},
				{
					ID:           "generate_predictions",
					Name:         "Generate Predictions",
					Function:     "generate_distribution_predictions",
					Parameters:   map[string]any{"probability_threshold": 0.5, "create_binary_maps": true},
					Dependencies: []string{"validate_models"},
				},
			},
		},
		{
			ID:             "seasonal_upwelling_analysis",
			Name:           "Seasonal Upwelling Analysis",
			Description:    "Quarterly analysis of the Benguela upwelling and its productivity impact",
			Type:           TypeSeasonalAnalysis,
			Recurrence:     "0 4 1 */3 *",
			EstimatedTotal: 90 * time.Minute,
			Steps: []StepSpec{
				{
					ID:         "collect_sst_data",
					Name:       "Collect SST Time Series",
					Function:   "collect_sst_timeseries",
					Parameters: map[string]any{"period_months": 3, "include_anomalies": true},
				},
				{
					ID:           "detect_upwelling_events",
					Name:         "Detect Upwelling Events",
					Function:     "detect_upwelling_events",
					Parameters:   map[string]any{"temperature_threshold": -2.0, "duration_threshold": 5},
					Dependencies: []string{"collect_sst_data"},
				},
				{
					ID:           "analyze_productivity_impact",
					Name:         "Analyze Productivity Impact",
					Function:     "analyze_upwelling_productivity",
					Parameters:   map[string]any{"chlorophyll_lag_days": 7, "fisheries_correlation": true},
					Dependencies: []string{"detect_upwelling_events"},
				},
				{
					ID:           "forecast_next_period",
					Name:         "Forecast Next Period",
					Function:     "forecast_upwelling_patterns",
					Parameters:   map[string]any{"forecast_months": 3, "confidence_interval": 0.95},
					Dependencies: []string{"analyze_productivity_impact"},
				},
			},
		},
	}
}
