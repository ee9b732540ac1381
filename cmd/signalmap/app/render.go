package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

const (
	dpi            = 120.0
	fontSize       = 9.0
	tickMarkLength = 5
	legendWidth    = 256
	legendHeight   = 10

	defaultTopBorder    = 40
	defaultLeftBorder   = 150
	defaultBottomBorder = 70
	defaultRightBorder  = 40

	defaultColumnWidth  = 2
	defaultBandHeight   = 80
	defaultTrackSize    = 800
	defaultPointRadius  = 3
	minimumTimelineSize = 600
	bandGap             = 10

	defaultTimeFormat     = "15:04:05"
	defaultDatetimeFormat = time.DateTime
)

const (
	ModeTimeline Mode = "timeline"
	ModeTrack    Mode = "track"
)

// ErrNoData is returned when there is nothing to render
var ErrNoData = errors.New("no readings to render")

// Mode selects the kind of image to render
type Mode string

// BorderConfig defines the sizes of white space around the plot
type BorderConfig struct {
	Top    int // Space for the time scale or the coordinates
	Left   int // Space for SIM labels
	Bottom int // Space for the information bar and the legend
	Right  int // Right padding
}

// RenderConfig holds all configuration options for rendering
type RenderConfig struct {
	TimeFormat     string
	DatetimeFormat string
	Location       *time.Location

	FontSize     float64
	ColorTheme   ColorTheme
	ColorMapSize int
	Bounds       *PowerBounds // Fixed power range, tracked from the data when nil

	ColumnWidth int // Timeline: pixels per reading
	BandHeight  int // Timeline: height of a SIM band
	TrackSize   int // Track: side of the square plot
	PointRadius int // Track: radius of a reading
	Slot        int // Track: SIM slot to color by

	BorderConfig BorderConfig
}

func (c *RenderConfig) setDefaults() {
	if c.TimeFormat == "" {
		c.TimeFormat = defaultTimeFormat
	}
	if c.DatetimeFormat == "" {
		c.DatetimeFormat = defaultDatetimeFormat
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.FontSize == 0 {
		c.FontSize = fontSize
	}
	if c.ColorTheme == "" {
		c.ColorTheme = EnhancedTheme
	}
	if c.ColumnWidth <= 0 {
		c.ColumnWidth = defaultColumnWidth
	}
	if c.BandHeight <= 0 {
		c.BandHeight = defaultBandHeight
	}
	if c.TrackSize <= 0 {
		c.TrackSize = defaultTrackSize
	}
	if c.PointRadius <= 0 {
		c.PointRadius = defaultPointRadius
	}
	if c.BorderConfig.Top == 0 {
		c.BorderConfig.Top = defaultTopBorder
	}
	if c.BorderConfig.Left == 0 {
		c.BorderConfig.Left = defaultLeftBorder
	}
	if c.BorderConfig.Bottom == 0 {
		c.BorderConfig.Bottom = defaultBottomBorder
	}
	if c.BorderConfig.Right == 0 {
		c.BorderConfig.Right = defaultRightBorder
	}
}

// Renderer turns session readings into an image
type Renderer interface {
	Render(data *SignalData) (*image.RGBA, error)
}

// NewRenderer returns the renderer for mode
func NewRenderer(mode Mode, config RenderConfig) (Renderer, error) {
	config.setDefaults()

	switch mode {
	case ModeTimeline:
		return &TimelineRenderer{config: config}, nil
	case ModeTrack:
		if config.Slot < survey.SlotSIM1 || config.Slot > survey.SlotSIM2 {
			return nil, fmt.Errorf("slot %d out of range", config.Slot)
		}
		return &TrackRenderer{config: config}, nil
	default:
		return nil, fmt.Errorf("unknown render mode '%s'", mode)
	}
}

func newColorMapper(config RenderConfig, data *SignalData) *ColorMapper {
	bounds := data.BoundsTracker.Current()
	if config.Bounds != nil {
		bounds = *config.Bounds
	}
	return NewColorMapperWithSize(config.ColorTheme, bounds, config.ColorMapSize)
}

func newCanvas(width, height int, borders BorderConfig) (*image.RGBA, image.Rectangle) {
	img := image.NewRGBA(image.Rect(0, 0, width+borders.Left+borders.Right, height+borders.Top+borders.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(borders.Left, borders.Top, borders.Left+width, borders.Top+height)
	return img, area
}

// TimelineRenderer draws one horizontal band per SIM slot, time runs left to
// right and every reading is a column colored by its dBm value.
type TimelineRenderer struct {
	config RenderConfig
}

func (r *TimelineRenderer) plotSize(data *SignalData) (int, int) {
	width := max(data.Len()*r.config.ColumnWidth, minimumTimelineSize)
	height := survey.Slots*r.config.BandHeight + (survey.Slots-1)*bandGap
	return width, height
}

func (r *TimelineRenderer) Render(data *SignalData) (*image.RGBA, error) {
	if data.Len() == 0 {
		return nil, ErrNoData
	}

	width, height := r.plotSize(data)
	img, area := newCanvas(width, height, r.config.BorderConfig)
	cm := newColorMapper(r.config, data)

	ann, err := newAnnotator(r.config)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing time scale", func() error { return ann.drawTimeScale(img, area, data) }},
		{"drawing slot labels", func() error { return ann.drawSlotLabels(img, area, data) }},
		{"drawing info bar", func() error { return ann.drawInfoBar(img, r.infoText(data, cm)) }},
		{"drawing legend", func() error { return ann.drawLegend(img, cm) }},
	}
	for _, op := range ops {
		if err = op.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	r.renderBands(img, area, data, cm)
	return img, nil
}

func (r *TimelineRenderer) renderBands(img *image.RGBA, area image.Rectangle, data *SignalData, cm *ColorMapper) {
	n := data.Len()
	for i, reading := range data.Readings {
		x0 := area.Min.X + i*area.Dx()/n
		x1 := area.Min.X + (i+1)*area.Dx()/n

		for slot := 0; slot < survey.Slots; slot++ {
			y0 := area.Min.Y + slot*(r.config.BandHeight+bandGap)
			band := image.Rect(x0, y0, x1, y0+r.config.BandHeight)

			c := cm.GetColor(DBm(reading.Slot(slot)))
			draw.Draw(img, band, image.NewUniform(c), image.Point{}, draw.Src)
		}
	}
}

func (r *TimelineRenderer) infoText(data *SignalData, cm *ColorMapper) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Time: %s - %s",
		data.TimestampStart.In(r.config.Location).Format(r.config.DatetimeFormat),
		data.TimestampEnd.In(r.config.Location).Format(r.config.DatetimeFormat)))
	sb.WriteString(fmt.Sprintf("; Readings: %s", humanize.Comma(int64(data.Len()))))
	sb.WriteString(fmt.Sprintf("; Fixes: %s", humanize.Comma(int64(data.Fixes))))
	sb.WriteString(fmt.Sprintf("; Range: %s", formatBounds(cm.Bounds())))

	return sb.String()
}

// TrackRenderer draws the readings that carry a location as points on a
// plane, colored by the dBm value of a single SIM slot.
type TrackRenderer struct {
	config RenderConfig
}

// projection maps coordinates into the plot with an equirectangular
// projection centered on the middle latitude
type projection struct {
	area           image.Rectangle
	latMax, lonMin float64
	lonScale       float64 // cos(mid latitude)
	pxPerDegree    float64
	offsetX        int
	offsetY        int
}

func newProjection(area image.Rectangle, data *SignalData, margin int) projection {
	p := projection{
		area:     area,
		latMax:   data.LatitudeMax,
		lonMin:   data.LongitudeMin,
		lonScale: math.Cos((data.LatitudeMin + data.LatitudeMax) / 2 * math.Pi / 180),
	}

	spanX := (data.LongitudeMax - data.LongitudeMin) * p.lonScale
	spanY := data.LatitudeMax - data.LatitudeMin
	size := float64(min(area.Dx(), area.Dy()) - 2*margin)

	span := max(spanX, spanY)
	if span > 0 {
		p.pxPerDegree = size / span
	}

	// center the track inside the plot
	p.offsetX = area.Min.X + (area.Dx()-int(spanX*p.pxPerDegree))/2
	p.offsetY = area.Min.Y + (area.Dy()-int(spanY*p.pxPerDegree))/2
	return p
}

func (p projection) point(loc *survey.Location) image.Point {
	x := (loc.Longitude - p.lonMin) * p.lonScale * p.pxPerDegree
	y := (p.latMax - loc.Latitude) * p.pxPerDegree
	return image.Pt(p.offsetX+int(math.Round(x)), p.offsetY+int(math.Round(y)))
}

func (r *TrackRenderer) Render(data *SignalData) (*image.RGBA, error) {
	if !data.HasTrack() {
		return nil, ErrNoData
	}

	size := r.config.TrackSize
	img, area := newCanvas(size, size, r.config.BorderConfig)
	cm := newColorMapper(r.config, data)

	ann, err := newAnnotator(r.config)
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	ops := []struct {
		msg string
		fn  func() error
	}{
		{"drawing coordinates", func() error { return ann.drawCoordinates(img, area, data) }},
		{"drawing info bar", func() error { return ann.drawInfoBar(img, r.infoText(data, cm)) }},
		{"drawing legend", func() error { return ann.drawLegend(img, cm) }},
	}
	for _, op := range ops {
		if err = op.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", op.msg, err)
		}
	}

	drawFrame(img, area)
	r.renderTrack(img, area, data, cm)
	return img, nil
}

func (r *TrackRenderer) renderTrack(img *image.RGBA, area image.Rectangle, data *SignalData, cm *ColorMapper) {
	proj := newProjection(area, data, r.config.PointRadius+1)
	for _, reading := range data.Readings {
		if reading.Location == nil {
			continue
		}

		c := cm.GetColor(DBm(reading.Slot(r.config.Slot)))
		drawDisc(img, proj.point(reading.Location), r.config.PointRadius, c)
	}
}

func (r *TrackRenderer) infoText(data *SignalData, cm *ColorMapper) string {
	operator := data.Operators[r.config.Slot]
	if operator == "" {
		operator = "Unknown"
	}

	return fmt.Sprintf("SIM%d %s; Time: %s - %s; Fixes: %s; Range: %s",
		r.config.Slot+1, operator,
		data.TimestampStart.In(r.config.Location).Format(r.config.DatetimeFormat),
		data.TimestampEnd.In(r.config.Location).Format(r.config.DatetimeFormat),
		humanize.Comma(int64(data.Fixes)),
		formatBounds(cm.Bounds()))
}

func drawDisc(img *image.RGBA, center image.Point, radius int, c color.Color) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.Set(center.X+dx, center.Y+dy, c)
			}
		}
	}
}

func drawFrame(img *image.RGBA, area image.Rectangle) {
	for x := area.Min.X - 1; x <= area.Max.X; x++ {
		img.Set(x, area.Min.Y-1, color.Black)
		img.Set(x, area.Max.Y, color.Black)
	}
	for y := area.Min.Y - 1; y <= area.Max.Y; y++ {
		img.Set(area.Min.X-1, y, color.Black)
		img.Set(area.Max.X, y, color.Black)
	}
}

type annotator struct {
	context  *freetype.Context
	config   RenderConfig
	fontFace font.Face
}

func newAnnotator(config RenderConfig) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawString(img *image.RGBA, s string, x, y int) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	_, err := a.context.DrawString(s, freetype.Pt(x, y))
	return err
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, data *SignalData) error {
	duration := data.Duration()
	textY := a.config.BorderConfig.Top - tickMarkLength - a.fontHeight()/2

	if duration <= 0 {
		label := data.TimestampStart.In(a.config.Location).Format(a.config.TimeFormat)
		return a.drawString(img, label, area.Min.X, textY)
	}

	step := calculateNiceTimeStep(duration)
	lastLabelEnd := math.MinInt

	for t := data.TimestampStart.Truncate(step); !t.After(data.TimestampEnd); t = t.Add(step) {
		if t.Before(data.TimestampStart) {
			continue
		}

		ratio := float64(t.Sub(data.TimestampStart)) / float64(duration)
		x := area.Min.X + int(ratio*float64(area.Dx()-1))

		for y := area.Min.Y - tickMarkLength; y < area.Min.Y; y++ {
			img.Set(x, y, color.Black)
		}

		label := t.In(a.config.Location).Format(a.config.TimeFormat)
		width := font.MeasureString(a.fontFace, label).Round()
		labelX := x - width/2
		if labelX <= lastLabelEnd {
			continue
		}

		if err := a.drawString(img, label, labelX, textY); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
		lastLabelEnd = labelX + width
	}
	return nil
}

func (a *annotator) drawSlotLabels(img *image.RGBA, area image.Rectangle, data *SignalData) error {
	metrics := a.fontFace.Metrics()

	for slot := 0; slot < survey.Slots; slot++ {
		operator := data.Operators[slot]
		if operator == "" {
			operator = "Unknown"
		}

		centerY := area.Min.Y + slot*(a.config.BandHeight+bandGap) + a.config.BandHeight/2
		lines := []string{fmt.Sprintf("SIM%d", slot+1), truncate(operator, 14)}

		y := centerY - a.fontHeight()/2 + metrics.Ascent.Round()/2
		for _, line := range lines {
			if err := a.drawString(img, line, 10, y); err != nil {
				return fmt.Errorf("drawing slot label: %w", err)
			}
			y += a.fontHeight()
		}
	}
	return nil
}

func (a *annotator) drawCoordinates(img *image.RGBA, area image.Rectangle, data *SignalData) error {
	label := fmt.Sprintf("Lat: %.5f .. %.5f; Lon: %.5f .. %.5f",
		data.LatitudeMin, data.LatitudeMax, data.LongitudeMin, data.LongitudeMax)
	textY := a.config.BorderConfig.Top - a.fontHeight()/2

	return a.drawString(img, label, area.Min.X, textY)
}

func (a *annotator) drawInfoBar(img *image.RGBA, text string) error {
	metrics := a.fontFace.Metrics()
	textY := img.Bounds().Max.Y - a.config.BorderConfig.Bottom + a.fontHeight() + metrics.Descent.Round()

	return a.drawString(img, text, a.config.BorderConfig.Left, textY)
}

// drawLegend draws the color gradient with its dBm limits below the info bar
func (a *annotator) drawLegend(img *image.RGBA, cm *ColorMapper) error {
	bounds := cm.Bounds()
	top := img.Bounds().Max.Y - a.config.BorderConfig.Bottom/2 + 2
	left := a.config.BorderConfig.Left

	minLabel := fmt.Sprintf("%.0f dBm", bounds.Min)
	if err := a.drawString(img, minLabel, left, top+legendHeight); err != nil {
		return err
	}
	left += font.MeasureString(a.fontFace, minLabel).Round() + 8

	for i := 0; i < legendWidth; i++ {
		power := bounds.Min + bounds.Span()*float64(i)/float64(legendWidth-1)
		c := cm.GetColor(&power)
		for y := top; y < top+legendHeight; y++ {
			img.Set(left+i, y, c)
		}
	}

	noData := left + legendWidth + 8
	maxLabel := fmt.Sprintf("%.0f dBm", bounds.Max)
	if err := a.drawString(img, maxLabel, noData, top+legendHeight); err != nil {
		return err
	}

	noData += font.MeasureString(a.fontFace, maxLabel).Round() + 16
	draw.Draw(img, image.Rect(noData, top, noData+legendHeight, top+legendHeight), image.NewUniform(NoDataColor), image.Point{}, draw.Src)
	return a.drawString(img, "no data", noData+legendHeight+6, top+legendHeight)
}

func formatBounds(b PowerBounds) string {
	return fmt.Sprintf("%.0f..%.0f dBm, mean %.1f dBm", b.Min, b.Max, b.Mean)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "~"
}

func calculateNiceTimeStep(duration time.Duration) time.Duration {
	roughStep := duration.Seconds() / 8 // Aim for about 8 time labels

	niceIntervals := []float64{
		1,     // 1 second
		5,     // 5 seconds
		10,    // 10 seconds
		30,    // 30 seconds
		60,    // 1 minute
		300,   // 5 minutes
		600,   // 10 minutes
		900,   // 15 minutes
		1800,  // 30 minutes
		3600,  // 1 hour
		7200,  // 2 hours
		14400, // 4 hours
	}

	for _, interval := range niceIntervals {
		if roughStep <= interval {
			return time.Duration(interval) * time.Second
		}
	}

	return time.Hour * 6
}
