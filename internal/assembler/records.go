package assembler

// GraphRecord persists one identity graph entry as a JSON document.
type GraphRecord struct {
	CustomerID       string `gorm:"column:customer_id;primaryKey;size:190;not null"`
	CustomerData     string `gorm:"column:customer_data;type:text;not null"`
	TouchpointCount  int64  `gorm:"column:touchpoint_count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (GraphRecord) TableName() string {
	return "identity_graph"
}

// JourneyRecord persists an assembled journey with summary columns used for filtering.
type JourneyRecord struct {
	JourneyID           string  `gorm:"column:journey_id;primaryKey;size:190;not null"`
	JourneyData         string  `gorm:"column:journey_data;type:text;not null"`
	CustomerID          string  `gorm:"column:customer_id;size:190;not null;default:'';index"`
	CustomerType        string  `gorm:"column:customer_type;size:8;not null;default:'';index:idx_journeys_type_confidence,priority:1"`
	ConfidenceScore     float64 `gorm:"column:confidence_score;not null;default:0;index:idx_journeys_type_confidence,priority:2"`
	StartAtSeconds      int64   `gorm:"column:start_at_s;not null;default:0"`
	AssembledAtSeconds  int64   `gorm:"column:assembled_at_s;not null;default:0;index"`
	AssemblySequenceNum int64   `gorm:"column:assembly_seq;not null;default:0;index"`
}

// TableName provides the explicit table binding for GORM.
func (JourneyRecord) TableName() string {
	return "assembled_journeys"
}

// StateRecord stores a single operational key/value pair.
type StateRecord struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (StateRecord) TableName() string {
	return "system_state"
}
