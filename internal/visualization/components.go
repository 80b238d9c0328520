package visualization

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/color"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/inferloop/aidrin/pkg/models"
)

// ChartType defines chart types
type ChartType string

const (
	ChartTypeBar     ChartType = "bar"
	ChartTypeBoxPlot ChartType = "boxplot"
)

// ChartOptions contains chart-specific options
type ChartOptions struct {
	Title  string    `json:"title"`
	XLabel string    `json:"x_label"`
	YLabel string    `json:"y_label"`
	Width  vg.Length `json:"width"`
	Height vg.Length `json:"height"`
	// Color indexes the plotutil default palette.
	Color    int  `json:"color"`
	ShowGrid bool `json:"show_grid"`
}

// BarData is a set of labelled bars, drawn in order.
type BarData struct {
	Bins []models.HistogramBin
}

// BoxGroup is one box of a box plot.
type BoxGroup struct {
	Label  string
	Values []float64
}

// BoxPlotData is a set of boxes, drawn in order.
type BoxPlotData struct {
	Groups []BoxGroup
}

// Renderer renders chart data into a base64-encoded PNG.
type Renderer interface {
	RenderChart(chartType ChartType, data interface{}, options ChartOptions) (string, error)
}

// ChartRenderer interface for rendering charts
type ChartRenderer interface {
	Render(data interface{}, options ChartOptions) (*plot.Plot, error)
	GetDefaultOptions() ChartOptions
	ValidateData(data interface{}) error
}

// ChartManager manages chart rendering
type ChartManager struct {
	logger     *logrus.Logger
	chartTypes map[ChartType]ChartRenderer
	mu         sync.RWMutex
}

func NewChartManager(logger *logrus.Logger) *ChartManager {
	if logger == nil {
		logger = logrus.New()
	}

	cm := &ChartManager{
		logger:     logger,
		chartTypes: make(map[ChartType]ChartRenderer),
	}
	cm.registerDefaultRenderers()
	return cm
}

// RenderChart draws data with the renderer registered for chartType and
// returns the PNG as standard base64. Renderer panics are returned as errors.
func (cm *ChartManager) RenderChart(chartType ChartType, data interface{}, options ChartOptions) (encoded string, err error) {
	cm.mu.RLock()
	renderer, exists := cm.chartTypes[chartType]
	cm.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("unsupported chart type: %s", chartType)
	}
	if err := renderer.ValidateData(data); err != nil {
		return "", err
	}

	defer func() {
		if r := recover(); r != nil {
			cm.logger.WithFields(logrus.Fields{
				"chart_type": chartType,
				"panic":      r,
			}).Error("Chart rendering panicked")
			encoded, err = "", fmt.Errorf("rendering %s chart: %v", chartType, r)
		}
	}()

	options = mergeOptions(renderer.GetDefaultOptions(), options)
	p, err := renderer.Render(data, options)
	if err != nil {
		return "", err
	}

	p.Title.Text = options.Title
	p.X.Label.Text = options.XLabel
	p.Y.Label.Text = options.YLabel
	if options.ShowGrid {
		grid := plotter.NewGrid()
		grid.Vertical.Color = nil
		p.Add(grid)
	}

	writer, err := p.WriterTo(options.Width, options.Height, "png")
	if err != nil {
		return "", fmt.Errorf("could not encode %s chart: %w", chartType, err)
	}

	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("could not write %s chart: %w", chartType, err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (cm *ChartManager) RegisterRenderer(chartType ChartType, renderer ChartRenderer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.chartTypes[chartType] = renderer
}

func (cm *ChartManager) registerDefaultRenderers() {
	cm.chartTypes[ChartTypeBar] = &BarChartRenderer{}
	cm.chartTypes[ChartTypeBoxPlot] = &BoxPlotRenderer{}
}

// BarChartRenderer draws one bar per bin, labelled with the bin value.
type BarChartRenderer struct{}

func (r *BarChartRenderer) Render(data interface{}, options ChartOptions) (*plot.Plot, error) {
	bars := data.(BarData)

	values := make(plotter.Values, len(bars.Bins))
	labels := make([]string, len(bars.Bins))
	for i, bin := range bars.Bins {
		values[i] = float64(bin.Count)
		labels[i] = cast.ToString(bin.Value)
	}

	p := plot.New()
	chart, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, fmt.Errorf("could not create bars from bins: %w", err)
	}
	chart.LineStyle.Width = vg.Length(0)
	chart.Color = plotutil.Color(options.Color)

	p.Add(chart)
	p.NominalX(labels...)
	return p, nil
}

func (r *BarChartRenderer) GetDefaultOptions() ChartOptions {
	return ChartOptions{
		Width:    8 * vg.Inch,
		Height:   5 * vg.Inch,
		Color:    0,
		ShowGrid: true,
	}
}

func (r *BarChartRenderer) ValidateData(data interface{}) error {
	bars, ok := data.(BarData)
	if !ok {
		return fmt.Errorf("bar chart expects BarData, got %T", data)
	}
	if len(bars.Bins) == 0 {
		return fmt.Errorf("bar chart has no bins")
	}
	return nil
}

// BoxPlotRenderer draws one box per group at consecutive x positions.
type BoxPlotRenderer struct{}

func (r *BoxPlotRenderer) Render(data interface{}, options ChartOptions) (*plot.Plot, error) {
	boxes := data.(BoxPlotData)

	p := plot.New()
	labels := make([]string, len(boxes.Groups))
	for i, group := range boxes.Groups {
		box, err := plotter.NewBoxPlot(vg.Points(30), float64(i), plotter.Values(group.Values))
		if err != nil {
			return nil, fmt.Errorf("could not create box for %q: %w", group.Label, err)
		}
		box.FillColor = withAlpha(plotutil.Color(options.Color+i), 0x80)
		p.Add(box)
		labels[i] = group.Label
	}

	p.NominalX(labels...)
	return p, nil
}

func (r *BoxPlotRenderer) GetDefaultOptions() ChartOptions {
	return ChartOptions{
		Width:    10 * vg.Inch,
		Height:   6 * vg.Inch,
		ShowGrid: true,
	}
}

func (r *BoxPlotRenderer) ValidateData(data interface{}) error {
	boxes, ok := data.(BoxPlotData)
	if !ok {
		return fmt.Errorf("box plot expects BoxPlotData, got %T", data)
	}
	if len(boxes.Groups) == 0 {
		return fmt.Errorf("box plot has no groups")
	}
	for _, group := range boxes.Groups {
		if len(group.Values) == 0 {
			return fmt.Errorf("box plot group %q is empty", group.Label)
		}
	}
	return nil
}

func mergeOptions(defaults, options ChartOptions) ChartOptions {
	if options.Width == 0 {
		options.Width = defaults.Width
	}
	if options.Height == 0 {
		options.Height = defaults.Height
	}
	if options.Color == 0 {
		options.Color = defaults.Color
	}
	if !options.ShowGrid {
		options.ShowGrid = defaults.ShowGrid
	}
	return options
}

func withAlpha(c color.Color, alpha uint8) color.Color {
	r, g, b, _ := c.RGBA()
	return color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: alpha}
}
