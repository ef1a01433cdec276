package registry

// The tables below belong to the MLflow backend store. They are read and
// tagged here, never migrated.

// RegisteredModel mapped from table <registered_models>
type RegisteredModel struct {
	Name            string               `gorm:"column:name;primaryKey"`
	CreationTime    int64                `gorm:"column:creation_time"`
	LastUpdatedTime int64                `gorm:"column:last_updated_time"`
	Description     string               `gorm:"column:description"`
	Tags            []RegisteredModelTag `gorm:"foreignKey:Name;references:Name"`
}

func (RegisteredModel) TableName() string { return "registered_models" }

// RegisteredModelTag mapped from table <registered_model_tags>
type RegisteredModelTag struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
	Name  string `gorm:"column:name;primaryKey"`
}

func (RegisteredModelTag) TableName() string { return "registered_model_tags" }

// ModelVersion mapped from table <model_versions>
type ModelVersion struct {
	Name            string `gorm:"column:name;primaryKey"`
	Version         int32  `gorm:"column:version;primaryKey"`
	CreationTime    int64  `gorm:"column:creation_time"`
	LastUpdatedTime int64  `gorm:"column:last_updated_time"`
	Description     string `gorm:"column:description"`
	UserID          string `gorm:"column:user_id"`
	CurrentStage    string `gorm:"column:current_stage"`
	Source          string `gorm:"column:source"`
	RunID           string `gorm:"column:run_id"`
	Status          string `gorm:"column:status"`
	StatusMessage   string `gorm:"column:status_message"`
	RunLink         string `gorm:"column:run_link"`
	StorageLocation string `gorm:"column:storage_location"`
}

func (ModelVersion) TableName() string { return "model_versions" }
