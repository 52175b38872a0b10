package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"chatsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes xlsx reports of failed sync operations for operators.
type Exporter struct {
	dir    string
	logger *zerolog.Logger
}

func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// FailedTasks writes the dead-lettered and not-implemented tasks to an
// xlsx file and returns its path.
func (e *Exporter) FailedTasks(tasks []models.SyncTask) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Failed operations"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Type", "Entity", "Status", "Attempts", "Last error", "Created", "Processed"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheetName, "A1", lastHeader, headerStyle)

	for i, task := range tasks {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), task.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), task.TaskType)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), task.EntityID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), task.Status)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), task.RetryCount+1)
		if task.LastError != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), *task.LastError)
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), task.CreatedAt.Format("02.01.2006 15:04"))
		if task.ProcessedAt != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), task.ProcessedAt.Format("02.01.2006 15:04"))
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "D", 16)
	_ = f.SetColWidth(sheetName, "E", "E", 10)
	_ = f.SetColWidth(sheetName, "F", "F", 50)
	_ = f.SetColWidth(sheetName, "G", "H", 18)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("failed_sync_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("tasks", len(tasks)).Msg("failed sync export created")
	return filePath, nil
}
