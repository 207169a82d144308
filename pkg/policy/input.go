package policy

import (
	"bufio"
	"strconv"
	"strings"
)

const vinaResultPrefix = "REMARK VINA RESULT:"

// ParseDocking summarizes a docking result in PDBQT form. Affinity is taken
// from the first VINA RESULT remark, which is the best-ranked model.
func ParseDocking(content string) DockingSummary {
	var summary DockingSummary

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "MODEL"):
			summary.Models++
		case summary.Affinity == nil && strings.HasPrefix(line, vinaResultPrefix):
			fields := strings.Fields(strings.TrimPrefix(line, vinaResultPrefix))
			if len(fields) == 0 {
				continue
			}
			if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
				summary.Affinity = &v
			}
		}
	}
	return summary
}

// ParsePose counts the coordinate records of a pose.
func ParsePose(content string) PoseSummary {
	var summary PoseSummary

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM") {
			summary.Records++
		}
	}
	return summary
}
