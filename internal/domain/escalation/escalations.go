package escalation

import "fmt"

// ManualEntry asks bedside staff to key in a reading the camera could not
// read confidently.
func ManualEntry(patientID int64, sourceID string, confidence, threshold float64) Escalation {
	return Escalation{
		Kind:      KindManualEntry,
		PatientID: patientID,
		Title:     "Manual vitals entry required",
		Message: fmt.Sprintf("OCR confidence %.0f%% was below the %.0f%% threshold for patient %d (camera %s). Please enter vitals manually.",
			confidence*100, threshold*100, patientID, sourceID),
		Priority: PriorityHigh,
		Metadata: map[string]interface{}{
			"source_id":  sourceID,
			"confidence": confidence,
			"threshold":  threshold,
		},
	}
}

// ClinicalReview asks a physician or charge nurse to adjudicate a reading
// outside neonatal plausibility ranges.
func ClinicalReview(patientID int64, sourceID, parameter string, value float64, allowed string) Escalation {
	return Escalation{
		Kind:      KindClinicalReview,
		PatientID: patientID,
		Title:     "Implausible vital sign requires review",
		Message: fmt.Sprintf("Camera %s reported %s = %g for patient %d, outside the plausible range %s.",
			sourceID, parameter, value, patientID, allowed),
		Priority: PriorityUrgent,
		Metadata: map[string]interface{}{
			"source_id": sourceID,
			"parameter": parameter,
			"value":     value,
			"range":     allowed,
		},
	}
}

// AlarmTriggered notifies bedside staff of a limit breach. Critical (low)
// breaches are urgent; warnings are high.
func AlarmTriggered(patientID int64, alarmID, alarmType, parameter string, value, threshold float64, message string) Escalation {
	priority := PriorityHigh
	if alarmType == "critical" {
		priority = PriorityUrgent
	}
	return Escalation{
		Kind:      KindAlarm,
		PatientID: patientID,
		Title:     fmt.Sprintf("%s alarm: %s", alarmType, parameter),
		Message:   message,
		Priority:  priority,
		Metadata: map[string]interface{}{
			"alarm_id":  alarmID,
			"type":      alarmType,
			"parameter": parameter,
			"value":     value,
			"threshold": threshold,
		},
	}
}
