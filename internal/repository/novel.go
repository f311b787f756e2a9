package repository

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/Ape-Alive/StoryX-sub001/internal/apperr"
	"github.com/Ape-Alive/StoryX-sub001/internal/model"
	"github.com/Ape-Alive/StoryX-sub001/internal/utils"
)

type NovelRepository struct {
	db *gorm.DB
	// 章节缓存：结构化任务会反复读取同一批章节，章节解析后不可变
	chapterCache *utils.ContentCache[model.Chapter]
}

func NewNovelRepository(db *gorm.DB) *NovelRepository {
	return &NovelRepository{
		db:           db,
		chapterCache: utils.NewContentCache[model.Chapter](1000, time.Hour),
	}
}

// Get 查询小说，校验归属
func (r *NovelRepository) Get(userID, novelID int64) (*model.Novel, error) {
	var novel model.Novel
	err := r.db.Where("id = ? AND user_id = ?", novelID, userID).First(&novel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NewNotFound(fmt.Sprintf("小说 %d 不存在", novelID))
	}
	if err != nil {
		return nil, err
	}
	return &novel, nil
}

// Create 创建小说及其章节，章节 Order 按传入顺序 1 起始编号
func (r *NovelRepository) Create(novel *model.Novel, chapters []model.Chapter) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		novel.CreatedAt = time.Now()
		totalWords := 0
		for i := range chapters {
			if chapters[i].WordCount == 0 {
				chapters[i].WordCount = utils.CountWords(chapters[i].Content)
			}
			totalWords += chapters[i].WordCount
		}
		novel.TotalChapters = len(chapters)
		novel.TotalWords = totalWords

		if err := tx.Create(novel).Error; err != nil {
			return err
		}
		for i := range chapters {
			chapters[i].NovelID = novel.ID
			chapters[i].Order = i + 1
		}
		if len(chapters) == 0 {
			return nil
		}
		return tx.Create(&chapters).Error
	})
}

// ListChapters 按顺序返回小说的全部章节（不含正文）
func (r *NovelRepository) ListChapters(novelID int64) ([]model.Chapter, error) {
	var chapters []model.Chapter
	err := r.db.Select("id", "novel_id", "chapter_order", "title", "word_count").
		Where("novel_id = ?", novelID).
		Order("chapter_order ASC").
		Find(&chapters).Error
	return chapters, err
}

// GetChapters 按 ID 集合查询章节（含正文），按 Order 排序
// 命中缓存的章节不再回库，未命中的批量查询后写入缓存
func (r *NovelRepository) GetChapters(chapterIDs []int64) ([]model.Chapter, error) {
	chapters := make([]model.Chapter, 0, len(chapterIDs))
	var misses []int64
	for _, id := range chapterIDs {
		if chapter, ok := r.chapterCache.Get(chapterKey(id)); ok {
			chapters = append(chapters, chapter)
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		var fetched []model.Chapter
		if err := r.db.Where("id IN ?", misses).Find(&fetched).Error; err != nil {
			return nil, err
		}
		for _, chapter := range fetched {
			r.chapterCache.Set(chapterKey(chapter.ID), chapter)
			chapters = append(chapters, chapter)
		}
	}

	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })
	return chapters, nil
}

func chapterKey(chapterID int64) string {
	return fmt.Sprintf("chapter:%d", chapterID)
}
