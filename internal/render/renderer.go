package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MoveHighlight marks the squares of the most recent move.
type MoveHighlight struct {
	From nchess.Square
	To   nchess.Square
}

// Options tune a single render call.
type Options struct {
	Highlight *MoveHighlight
}

// BoardRenderer converts a position into a PNG. Pure function of the
// position; it knows nothing about sessions.
type BoardRenderer interface {
	RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error)
}

type svgBoardRenderer struct{}

func NewSVGBoardRenderer() BoardRenderer {
	return &svgBoardRenderer{}
}

var (
	lightSquare    = color.RGBA{240, 217, 181, 255}
	darkSquare     = color.RGBA{181, 136, 99, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	borderFill     = color.RGBA{181, 136, 99, 255}
	coordinateText = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

var (
	boardRanks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	boardFiles = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func (r *svgBoardRenderer) RenderPNG(ctx context.Context, board *nchess.Board, opts Options) ([]byte, error) {
	if board == nil {
		return nil, fmt.Errorf("board is nil")
	}

	const (
		squareSize = 72
		boardSize  = squareSize * 8
		border     = 28
		totalSize  = boardSize + border*2
	)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, totalSize, totalSize))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(borderFill), image.Point{}, imagedraw.Src)

	origin := image.Point{X: border, Y: border}
	drawSquares(img, squareSize, origin)
	drawHighlight(img, opts.Highlight, squareSize, origin)
	if err := drawPieces(img, board, squareSize, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, squareSize, origin, border, totalSize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawSquares(dst imagedraw.Image, squareSize int, origin image.Point) {
	for row := range boardRanks {
		for col := range boardFiles {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := lightSquare
			if (row+col)%2 == 1 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawHighlight(img *image.RGBA, highlight *MoveHighlight, squareSize int, origin image.Point) {
	if highlight == nil {
		return
	}
	for _, sq := range []nchess.Square{highlight.From, highlight.To} {
		rect := squareRect(sq, squareSize, origin)
		imagedraw.Draw(img, rect, image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, squareSize int, origin image.Point) error {
	boardMap := board.SquareMap()
	for row, rank := range boardRanks {
		for col, file := range boardFiles {
			sq := nchess.NewSquare(file, rank)
			piece := boardMap[sq]
			if piece == nchess.NoPiece {
				continue
			}
			img, err := pieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), img, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func squareRect(sq nchess.Square, squareSize int, origin image.Point) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawCoordinates(img *image.RGBA, squareSize int, origin image.Point, border, totalSize int) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(coordinateText),
		Face: basicfont.Face7x13,
	}
	for row := range boardRanks {
		label := fmt.Sprintf("%d", 8-row)
		y := origin.Y + row*squareSize + squareSize/2 + 4
		drawer.Dot = fixed.P(border/2-3, y)
		drawer.DrawString(label)
		drawer.Dot = fixed.P(totalSize-border/2-3, y)
		drawer.DrawString(label)
	}
	for col := range boardFiles {
		label := string(rune('a' + col))
		x := origin.X + col*squareSize + squareSize/2 - 3
		drawer.Dot = fixed.P(x, border/2+4)
		drawer.DrawString(label)
		drawer.Dot = fixed.P(x, totalSize-border/2+4)
		drawer.DrawString(label)
	}
}
