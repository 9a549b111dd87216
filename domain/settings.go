package domain

// Settings represents user configurable options.
type Settings struct {
	TasksPerColumn int  `json:"tasksPerColumn"`
	ShowDoneTasks  bool `json:"showDoneTasks"`
}
