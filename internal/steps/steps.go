// Package steps provides the built-in marine-science step functions bound
// into the workflow registry at startup. Each function is an opaque unit
// of work from the engine's point of view: it consumes the declared
// parameter set, honors the injected deadline, and returns a result
// payload recorded under its step id.
//
// The analytical backends (OBIS/GBIF harvesters, Copernicus ingestion,
// MaxEnt modeling) are external services; these implementations stand in
// for them with representative payloads and realistic latencies.
package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/seaward/benguela/internal/workflow"
)

// Register binds every built-in step function into the registry.
func Register(r *workflow.Registry) {
	// Data collection
	r.Register("collect_biodiversity_data", collectBiodiversityData)
	r.Register("fetch_copernicus_daily_data", fetchCopernicusDailyData)
	r.Register("collect_fisheries_statistics", collectFisheriesStatistics)
	r.Register("collect_sst_timeseries", collectSSTTimeseries)

	// Analysis
	r.Register("calculate_biodiversity_indices", calculateBiodiversityIndices)
	r.Register("perform_quality_control", performQualityControl)
	r.Register("calculate_oceanographic_statistics", calculateOceanographicStatistics)
	r.Register("analyze_catch_trends", analyzeCatchTrends)

	// Modeling
	r.Register("run_maxent_species_models", runMaxEntSpeciesModels)
	r.Register("validate_distribution_models", validateDistributionModels)
	r.Register("generate_distribution_predictions", generateDistributionPredictions)
	r.Register("prepare_species_occurrence_data", prepareSpeciesOccurrenceData)
	r.Register("prepare_environmental_layers", prepareEnvironmentalLayers)

	// Seasonal analysis
	r.Register("detect_upwelling_events", detectUpwellingEvents)
	r.Register("analyze_upwelling_productivity", analyzeUpwellingProductivity)
	r.Register("forecast_upwelling_patterns", forecastUpwellingPatterns)

	// Reporting and assessment
	r.Register("generate_scientific_report", generateScientificReport)
	r.Register("generate_fisheries_report", generateFisheriesReport)
	r.Register("generate_species_distribution_maps", generateSpeciesDistributionMaps)
	r.Register("assess_fishing_sustainability", assessFishingSustainability)
	r.Register("check_environmental_alerts", checkEnvironmentalAlerts)
}

// simulate blocks for the working duration of a step, returning early with
// the context error if the deadline fires or the workflow is cancelled.
func simulate(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func stringParam(step *workflow.Step, key, fallback string) string {
	if v, ok := step.Parameters[key].(string); ok {
		return v
	}
	return fallback
}

func intParam(step *workflow.Step, key string, fallback int) int {
	switch v := step.Parameters[key].(type) {
	case int:
		return v
	case float64: // JSON numbers decode as float64
		return int(v)
	}
	return fallback
}

func boolParam(step *workflow.Step, key string, fallback bool) bool {
	if v, ok := step.Parameters[key].(bool); ok {
		return v
	}
	return fallback
}

func stringsParam(step *workflow.Step, key string, fallback []string) []string {
	switch v := step.Parameters[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return fallback
			}
			out = append(out, s)
		}
		return out
	}
	return fallback
}

func collectBiodiversityData(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	source := stringParam(step, "source", "obis")
	periodDays := intParam(step, "period_days", 30)

	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"source":             source,
		"records_collected":  1250,
		"species_count":      45,
		"period_days":        periodDays,
		"data_quality_score": 0.89,
	}, nil
}

func fetchCopernicusDailyData(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	variables := stringsParam(step, "variables", []string{"sst"})

	if err := simulate(ctx, 300*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"variables":           variables,
		"data_points":         15678,
		"coverage_percentage": 94.5,
		"last_update":         time.Now().Format(time.RFC3339),
	}, nil
}

func collectFisheriesStatistics(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	zones := stringsParam(step, "zones", []string{"centro"})
	periodDays := intParam(step, "period_days", 7)

	if err := simulate(ctx, 150*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"zones":             zones,
		"total_catch_tons":  234.7,
		"active_vessels":    892,
		"species_diversity": 23,
		"period_days":       periodDays,
	}, nil
}

func calculateBiodiversityIndices(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 100*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"shannon_index":     2.45,
		"simpson_index":     0.83,
		"margalef_richness": 4.12,
		"pielou_evenness":   0.78,
		"species_richness":  45,
	}, nil
}

func performQualityControl(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	threshold := step.Parameters["threshold"]
	if threshold == nil {
		threshold = 0.8
	}
	if err := simulate(ctx, 50*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"quality_score":     0.91,
		"outliers_removed":  23,
		"data_completeness": 0.95,
		"threshold_used":    threshold,
	}, nil
}

func calculateOceanographicStatistics(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"mean_sst":            24.5,
		"mean_salinity":       35.2,
		"mean_chlorophyll":    0.89,
		"temperature_anomaly": 0.3,
		"trend_analysis":      "stable",
	}, nil
}

func analyzeCatchTrends(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 150*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"trend_direction":  "increasing",
		"trend_strength":   0.65,
		"seasonal_pattern": "strong",
		"top_species":      []string{"Sardinha", "Atum", "Cavala"},
	}, nil
}

func runMaxEntSpeciesModels(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	// Modeling is by far the slowest step in the catalog.
	if err := simulate(ctx, time.Second); err != nil {
		return nil, err
	}
	return map[string]any{
		"models_created":     8,
		"average_auc":        0.87,
		"validation_success": true,
		"feature_importance": map[string]any{"sst": 0.45, "depth": 0.32, "salinity": 0.23},
	}, nil
}

func validateDistributionModels(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"validation_score":      0.89,
		"cross_validation_auc":  0.85,
		"model_reliability":     "high",
		"recommended_threshold": 0.6,
	}, nil
}

func generateDistributionPredictions(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 300*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"prediction_maps_created": 8,
		"suitable_habitat_km2":    125000,
		"confidence_level":        0.87,
		"binary_maps_created":     true,
	}, nil
}

func collectSSTTimeseries(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"data_points":         2190,
		"temporal_resolution": "daily",
		"spatial_coverage":    0.98,
		"anomalies_detected":  12,
	}, nil
}

func detectUpwellingEvents(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 150*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"upwelling_events":      8,
		"average_intensity":     -2.8,
		"average_duration_days": 7.5,
		"seasonal_pattern":      "jul-sep peak",
	}, nil
}

func analyzeUpwellingProductivity(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"productivity_increase":    2.3,
		"chlorophyll_response_lag": 5.2,
		"fisheries_correlation":    0.78,
		"economic_impact_usd":      2500000,
	}, nil
}

func forecastUpwellingPatterns(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 300*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"forecast_confidence": 0.82,
		"predicted_events":    6,
		"intensity_forecast":  "moderate",
		"timing_forecast":     "jun-aug",
	}, nil
}

func generateScientificReport(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	format := stringParam(step, "format", "html")
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"report_generated": true,
		"pages_count":      25,
		"figures_count":    12,
		"format":           format,
		"file_path":        fmt.Sprintf("/reports/%s_scientific_report.%s", wf.ID, format),
	}, nil
}

func generateFisheriesReport(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 150*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"report_generated":     true,
		"zones_analyzed":       3,
		"species_assessed":     15,
		"sustainability_score": 0.76,
		"file_path":            fmt.Sprintf("/reports/%s_fisheries_report.html", wf.ID),
	}, nil
}

func generateSpeciesDistributionMaps(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 400*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"maps_generated":  8,
		"map_type":        stringParam(step, "map_type", "folium"),
		"include_density": boolParam(step, "include_density", false),
		"output_format":   "html",
	}, nil
}

func assessFishingSustainability(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"sustainability_index":  0.76,
		"overfished_species":    2,
		"sustainable_species":   13,
		"recommendations_count": 8,
	}, nil
}

func checkEnvironmentalAlerts(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 100*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"alerts_generated":    3,
		"severity_levels":     []string{"warning", "info", "warning"},
		"parameters_checked":  []string{"temperature", "salinity", "oxygen"},
		"thresholds_exceeded": 1,
	}, nil
}

func prepareSpeciesOccurrenceData(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 200*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"species_processed":   12,
		"occurrences_cleaned": 5678,
		"spatial_resolution":  "0.25deg",
		"temporal_range":      "2020-2024",
	}, nil
}

func prepareEnvironmentalLayers(ctx context.Context, wf workflow.View, step *workflow.Step) (any, error) {
	if err := simulate(ctx, 300*time.Millisecond); err != nil {
		return nil, err
	}
	return map[string]any{
		"layers_prepared":    4,
		"variables":          stringsParam(step, "variables", nil),
		"resolution":         stringParam(step, "resolution", "1deg"),
		"temporal_alignment": "monthly",
	}, nil
}
